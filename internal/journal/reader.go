package journal

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"tradesim/internal/bus"
)

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	SkipChecksum   bool
	MaxPayloadSize int
}

// Reader decodes journal records sequentially.
type Reader struct {
	r      *bufio.Reader
	opts   ReaderOptions
	header []byte
}

// NewReader wraps r with record decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:      bufio.NewReader(r),
		opts:   opts,
		header: make([]byte, recordHeaderSize),
	}
}

// Next returns the next event, or io.EOF at a clean end of input.
func (r *Reader) Next() (bus.Event, error) {
	n, err := io.ReadFull(r.r, r.header)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return bus.Event{}, io.EOF
		}
		return bus.Event{}, errors.Wrap(err, "read header")
	}
	h, payloadLen, err := decodeHeader(r.header)
	if err != nil {
		return bus.Event{}, err
	}
	if r.opts.MaxPayloadSize > 0 && payloadLen > uint32(r.opts.MaxPayloadSize) {
		return bus.Event{}, ErrPayloadTooLarge
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return bus.Event{}, errors.Wrap(err, "read payload")
	}
	var sum [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, sum[:]); err != nil {
		return bus.Event{}, errors.Wrap(err, "read checksum")
	}
	if !r.opts.SkipChecksum && binary.LittleEndian.Uint32(sum[:]) != checksum(r.header, payload) {
		return bus.Event{}, ErrChecksumMismatch
	}
	return bus.Event{Header: h, Payload: payload}, nil
}

// ReplayConfig controls journal playback.
type ReplayConfig struct {
	Dir    string
	Prefix string
	// Speed paces playback on event timestamps; 0 plays as fast as possible.
	Speed float64
	ReaderOptions
}

// Segments lists the journal files of dir in write order.
func Segments(dir, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read journal dir")
	}
	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// Replay feeds every journaled event to fn in order.
func Replay(ctx context.Context, cfg ReplayConfig, fn func(bus.Event) error) error {
	if fn == nil {
		return errors.New("replay handler is nil")
	}
	if cfg.Speed < 0 {
		return errors.New("replay speed must be >= 0")
	}
	files, err := Segments(cfg.Dir, cfg.Prefix)
	if err != nil {
		return err
	}

	var prev int64
	for _, path := range files {
		if err := replayFile(ctx, path, cfg, &prev, fn); err != nil {
			return errors.Wrapf(err, "replay %s", filepath.Base(path))
		}
	}
	return nil
}

func replayFile(ctx context.Context, path string, cfg ReplayConfig, prev *int64, fn func(bus.Event) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := NewReader(file, cfg.ReaderOptions)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := pace(ctx, cfg.Speed, e.Header.TsEvent, prev); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

func pace(ctx context.Context, speed float64, ts int64, prev *int64) error {
	if speed <= 0 || ts <= 0 {
		return nil
	}
	defer func() { *prev = ts }()
	if *prev <= 0 || ts <= *prev {
		return nil
	}
	t := time.NewTimer(time.Duration(float64(ts-*prev) / speed))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
