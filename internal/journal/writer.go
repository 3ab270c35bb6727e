package journal

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"tradesim/internal/bus"
	"tradesim/internal/schema"
)

var (
	ErrQueueFull      = errors.New("journal queue full")
	ErrClosed         = errors.New("journal writer closed")
	ErrNotStarted     = errors.New("journal writer not started")
	ErrAlreadyStarted = errors.New("journal writer already started")
)

// Writer appends bus events to rotating segment files from a buffered queue.
// Append never blocks the caller.
type Writer struct {
	cfg Config
	ch  chan bus.Event
	wg  sync.WaitGroup
	err atomic.Value

	started atomic.Bool
	closed  atomic.Bool
	mu      sync.RWMutex

	written atomic.Uint64
}

// NewWriter creates the journal directory and a stopped writer.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir")
	}
	return &Writer{
		cfg: cfg,
		ch:  make(chan bus.Event, cfg.QueueSize),
	}, nil
}

// Start runs the write loop until ctx is done or Close is called.
func (w *Writer) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close drains the queue, closes the open segment and returns the first write error.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed.CompareAndSwap(false, true) {
		close(w.ch)
	}
	w.mu.Unlock()
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the write loop.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Written returns the number of records written.
func (w *Writer) Written() uint64 {
	return w.written.Load()
}

// Append enqueues an event. The payload must not be modified afterwards.
func (w *Writer) Append(e bus.Event) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed.Load() {
		return ErrClosed
	}
	if !w.started.Load() {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	if uint64(len(e.Payload)) > maxPayloadLen {
		return ErrPayloadTooLarge
	}
	if e.Header.Version == 0 {
		e.Header.Version = schema.SchemaVersion
	}
	select {
	case w.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

type segment struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}

func (w *Writer) run(ctx context.Context) {
	var (
		seg    *segment
		segID  uint64
		header = make([]byte, recordHeaderSize)
		flushC <-chan time.Time
		syncC  <-chan time.Time
	)
	if w.cfg.FlushInterval > 0 {
		t := time.NewTicker(w.cfg.FlushInterval)
		defer t.Stop()
		flushC = t.C
	}
	if w.cfg.SyncInterval > 0 {
		t := time.NewTicker(w.cfg.SyncInterval)
		defer t.Stop()
		syncC = t.C
	}
	defer func() {
		if err := closeSegment(seg); err != nil {
			w.setErr(err)
		}
	}()

	write := func(e bus.Event) bool {
		if err := w.write(&seg, &segID, header, e); err != nil {
			w.setErr(err)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-w.ch:
					if !ok || !write(e) {
						return
					}
				default:
					return
				}
			}
		case e, ok := <-w.ch:
			if !ok || !write(e) {
				return
			}
		case <-flushC:
			if seg != nil {
				if err := seg.buf.Flush(); err != nil {
					w.setErr(err)
					return
				}
			}
		case <-syncC:
			if seg != nil {
				if err := seg.buf.Flush(); err != nil {
					w.setErr(err)
					return
				}
				if err := seg.file.Sync(); err != nil {
					w.setErr(err)
					return
				}
			}
		}
	}
}

func (w *Writer) write(seg **segment, segID *uint64, header []byte, e bus.Event) error {
	now := time.Now().UTC()
	size := int64(recordHeaderSize + len(e.Payload) + recordChecksumSize)
	if w.shouldRotate(*seg, now, size) {
		if err := closeSegment(*seg); err != nil {
			return err
		}
		*seg = nil
		opened, err := w.openSegment(segID, now)
		if err != nil {
			return err
		}
		*seg = opened
	}

	encodeHeader(header, e.Header, len(e.Payload))
	var sum [recordChecksumSize]byte
	binary.LittleEndian.PutUint32(sum[:], checksum(header, e.Payload))

	s := *seg
	if _, err := s.buf.Write(header); err != nil {
		return errors.Wrap(err, "write header")
	}
	if _, err := s.buf.Write(e.Payload); err != nil {
		return errors.Wrap(err, "write payload")
	}
	if _, err := s.buf.Write(sum[:]); err != nil {
		return errors.Wrap(err, "write checksum")
	}
	s.size += size
	w.written.Add(1)
	return nil
}

func (w *Writer) shouldRotate(seg *segment, now time.Time, next int64) bool {
	if seg == nil {
		return true
	}
	if seg.size > 0 && seg.size+next > w.cfg.SegmentMaxBytes {
		return true
	}
	return w.cfg.SegmentMaxAge > 0 && now.Sub(seg.openedAt) >= w.cfg.SegmentMaxAge
}

func (w *Writer) openSegment(segID *uint64, now time.Time) (*segment, error) {
	ts := now.Format("20060102-150405")
	for {
		*segID++
		name := fmt.Sprintf("%s-%s-%06d%s", w.cfg.Prefix, ts, *segID, fileSuffix)
		file, err := os.OpenFile(filepath.Join(w.cfg.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, errors.Wrap(err, "open segment")
		}
		return &segment{
			file:     file,
			buf:      bufio.NewWriterSize(file, w.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

func closeSegment(seg *segment) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return errors.Wrap(err, "flush segment")
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return errors.Wrap(err, "sync segment")
	}
	return seg.file.Close()
}

func (w *Writer) setErr(err error) {
	if err != nil && w.err.Load() == nil {
		w.err.Store(err)
	}
}
