package journal

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/yanun0323/errors"

	"tradesim/internal/schema"
)

// Record layout, little endian:
//
//	magic[4] version[2] headerSize[2] type[2] schemaVersion[2] payloadLen[4]
//	seq[8] tick[8] tsEvent[8] tsRecv[8] traceID[8]
//	payload[payloadLen] crc32c(header+payload)[4]
const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 60
	recordChecksumSize        = 4

	maxPayloadLen = uint64(^uint32(0))
)

var (
	recordMagic = [4]byte{'T', 'S', 'J', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic     = errors.New("journal invalid magic")
	ErrUnsupportedVer   = errors.New("journal unsupported record version")
	ErrInvalidHeader    = errors.New("journal invalid header size")
	ErrChecksumMismatch = errors.New("journal checksum mismatch")
	ErrPayloadTooLarge  = errors.New("journal payload too large")
)

func encodeHeader(dst []byte, h schema.EventHeader, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], recordHeaderSize)
	binary.LittleEndian.PutUint16(dst[8:10], uint16(h.Type))
	binary.LittleEndian.PutUint16(dst[10:12], h.Version)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[16:24], h.Seq)
	binary.LittleEndian.PutUint64(dst[24:32], h.Tick)
	binary.LittleEndian.PutUint64(dst[32:40], uint64(h.TsEvent))
	binary.LittleEndian.PutUint64(dst[40:48], uint64(h.TsRecv))
	binary.LittleEndian.PutUint64(dst[48:56], h.TraceID)
	binary.LittleEndian.PutUint32(dst[56:60], 0)
}

func decodeHeader(src []byte) (schema.EventHeader, uint32, error) {
	if len(src) < recordHeaderSize {
		return schema.EventHeader{}, 0, ErrInvalidHeader
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return schema.EventHeader{}, 0, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint16(src[4:6]) != recordVersion {
		return schema.EventHeader{}, 0, ErrUnsupportedVer
	}
	if binary.LittleEndian.Uint16(src[6:8]) != recordHeaderSize {
		return schema.EventHeader{}, 0, ErrInvalidHeader
	}
	h := schema.EventHeader{
		Type:    schema.EventType(binary.LittleEndian.Uint16(src[8:10])),
		Version: binary.LittleEndian.Uint16(src[10:12]),
		Seq:     binary.LittleEndian.Uint64(src[16:24]),
		Tick:    binary.LittleEndian.Uint64(src[24:32]),
		TsEvent: int64(binary.LittleEndian.Uint64(src[32:40])),
		TsRecv:  int64(binary.LittleEndian.Uint64(src[40:48])),
		TraceID: binary.LittleEndian.Uint64(src[48:56]),
	}
	return h, binary.LittleEndian.Uint32(src[12:16]), nil
}

func checksum(header, payload []byte) uint32 {
	return crc32.Update(crc32.Update(0, crcTable, header), crcTable, payload)
}
