package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"livebridge/internal/codec"
	"livebridge/internal/schema"
)

var (
	ErrQueueFull      = errors.New("wal queue full")
	ErrClosed         = errors.New("wal writer closed")
	ErrNotStarted     = errors.New("wal writer not started")
	ErrAlreadyStarted = errors.New("wal writer already started")
)

// Writer appends session events to rotating WAL segments. Appends never block:
// a full queue is reported as ErrQueueFull and the event is dropped.
type Writer struct {
	cfg Config
	ch  chan entry
	wg  sync.WaitGroup
	err atomic.Pointer[error]
	seq atomic.Uint64

	started atomic.Bool
	closed  atomic.Bool
	dropped atomic.Uint64
}

type entry struct {
	header  schema.EventHeader
	payload []byte
}

// NewWriter creates a writer and ensures the target directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{cfg: cfg, ch: make(chan entry, cfg.QueueSize)}, nil
}

// Start runs the writer loop in a new goroutine.
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

// Close stops accepting events, drains the queue and closes the open segment.
func (w *Writer) Close() error {
	if w.closed.CompareAndSwap(false, true) {
		close(w.ch)
	}
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the writer loop.
func (w *Writer) Err() error {
	if p := w.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Dropped returns the number of events rejected because the queue was full.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Append encodes v and enqueues it with the next sequence number.
func (w *Writer) Append(v any, tsEvent int64) error {
	typ, payload, err := codec.Encode(nil, v)
	if err != nil {
		return err
	}
	return w.TryAppend(schema.NewHeader(typ, w.cfg.Source, 0, tsEvent, time.Now().UTC().UnixNano()), payload)
}

// Record appends v, dropping it when the queue is full or the writer has
// stopped. Queue-full drops are counted by Dropped.
func (w *Writer) Record(v any, tsEvent int64) {
	_ = w.Append(v, tsEvent)
}

// TryAppend enqueues a pre-encoded event. A zero header.Seq is assigned by the
// writer. The payload must not be modified after the call.
func (w *Writer) TryAppend(header schema.EventHeader, payload []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if !w.started.Load() {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return ErrPayloadTooLarge
	}
	if header.Version == 0 {
		header.Version = schema.SchemaVersion
	}
	if header.Seq == 0 {
		header.Seq = w.seq.Add(1)
	}
	select {
	case w.ch <- entry{header: header, payload: payload}:
		return nil
	default:
		w.dropped.Add(1)
		return ErrQueueFull
	}
}

func (w *Writer) run(ctx context.Context) {
	seg := &segment{cfg: w.cfg}
	var flushC, syncC <-chan time.Time
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
		w.setErr(seg.close())
	}()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-w.ch:
					if !ok {
						return
					}
					if err := seg.write(e); err != nil {
						w.setErr(err)
						return
					}
				default:
					return
				}
			}
		case e, ok := <-w.ch:
			if !ok {
				return
			}
			if err := seg.write(e); err != nil {
				w.setErr(err)
				return
			}
		case <-flushC:
			if err := seg.flush(false); err != nil {
				w.setErr(err)
				return
			}
		case <-syncC:
			if err := seg.flush(true); err != nil {
				w.setErr(err)
				return
			}
		}
	}
}

func (w *Writer) setErr(err error) {
	if err == nil {
		return
	}
	w.err.CompareAndSwap(nil, &err)
}

// segment owns the currently open WAL file. Only the writer loop touches it.
type segment struct {
	cfg      Config
	id       uint64
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
	header   [headerSize]byte
	trailer  [checksumSize]byte
}

func (s *segment) write(e entry) error {
	now := time.Now().UTC()
	n := int64(headerSize + len(e.payload) + checksumSize)
	if s.needsRotate(now, n) {
		if err := s.close(); err != nil {
			return err
		}
		if err := s.open(now); err != nil {
			return err
		}
	}
	putHeader(s.header[:], e.header, len(e.payload))
	binary.LittleEndian.PutUint32(s.trailer[:], checksum(s.header[:], e.payload))
	for _, part := range [][]byte{s.header[:], e.payload, s.trailer[:]} {
		if _, err := s.buf.Write(part); err != nil {
			return err
		}
	}
	s.size += n
	return nil
}

func (s *segment) needsRotate(now time.Time, next int64) bool {
	if s.file == nil {
		return true
	}
	if s.size > 0 && s.size+next > s.cfg.SegmentMaxBytes {
		return true
	}
	return s.cfg.SegmentMaxDuration > 0 && now.Sub(s.openedAt) >= s.cfg.SegmentMaxDuration
}

func (s *segment) open(now time.Time) error {
	stamp := now.Format("20060102-150405")
	for {
		s.id++
		path := filepath.Join(s.cfg.Dir, fmt.Sprintf("%s-%s-%06d%s", s.cfg.FilePrefix, stamp, s.id, segmentSuffix))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return err
		}
		s.file = file
		s.buf = bufio.NewWriterSize(file, s.cfg.BufferSize)
		s.size = 0
		s.openedAt = now
		return nil
	}
}

func (s *segment) flush(durable bool) error {
	if s.file == nil {
		return nil
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if durable {
		return s.file.Sync()
	}
	return nil
}

func (s *segment) close() error {
	if s.file == nil {
		return nil
	}
	err := s.flush(true)
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	s.buf = nil
	return err
}
