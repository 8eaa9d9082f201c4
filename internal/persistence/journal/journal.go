// Package journal writes the tick journal: one JSON line per tick, zstd compressed, one file
// per UTC hour. Entries are handed to a background writer so the tick goroutine never waits
// on disk.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Writer appends tick entries to <dir>/<prefix>-<YYYY-MM-DD-HH>.jsonl.zst, starting a new file
// when the UTC hour changes. Reopening an hour appends a new zstd frame to its file.
type Writer struct {
	dir    string
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	cur *hourFile
}

type hourFile struct {
	hour string
	f    *os.File
	zw   *zstd.Encoder
	bw   *bufio.Writer
	enc  *json.Encoder
}

func NewWriter(dir, prefix string) *Writer {
	return &Writer{dir: dir, prefix: prefix, now: time.Now}
}

func (w *Writer) Append(e TickEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if w.cur == nil || w.cur.hour != hour {
		if err := w.closeCurrent(); err != nil {
			return err
		}
		hf, err := openHour(filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour)), hour)
		if err != nil {
			return err
		}
		w.cur = hf
	}
	return w.cur.enc.Encode(e)
}

// Flush ends the current zstd block so readers see every appended entry.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return nil
	}
	if err := w.cur.bw.Flush(); err != nil {
		return err
	}
	return w.cur.zw.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeCurrent()
}

func (w *Writer) closeCurrent() error {
	if w.cur == nil {
		return nil
	}
	err := w.cur.close()
	w.cur = nil
	return err
}

func openHour(path, hour string) (*hourFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	bw := bufio.NewWriterSize(zw, 64*1024)
	return &hourFile{hour: hour, f: f, zw: zw, bw: bw, enc: json.NewEncoder(bw)}, nil
}

// close returns the first error of flushing, finishing the zstd stream and closing the file.
func (h *hourFile) close() error {
	err := h.bw.Flush()
	if zerr := h.zw.Close(); err == nil {
		err = zerr
	}
	if ferr := h.f.Close(); err == nil {
		err = ferr
	}
	return err
}

// TickEntry is one journal line.
type TickEntry struct {
	Tick       uint64  `json:"tick"`
	Drained    int     `json:"drained"`
	Joins      int     `json:"joins"`
	Leaves     int     `json:"leaves"`
	Packets    int     `json:"packets"`
	Outbound   int     `json:"outbound"`
	Delivered  int     `json:"delivered"`
	Shed       int     `json:"shed"`
	StepMillis float64 `json:"step_ms"`
	Overrun    bool    `json:"overrun,omitempty"`
	Players    int     `json:"players"`
	Chunks     int     `json:"chunks"`
}

// TickLog queues entries for a background Writer.
type TickLog struct {
	w   *Writer
	log *zap.Logger

	ch      chan TickEntry
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
	written atomic.Uint64
}

func NewTickLog(dir string, log *zap.Logger) *TickLog {
	if log == nil {
		log = zap.NewNop()
	}
	l := &TickLog{
		w:   NewWriter(dir, "ticks"),
		log: log,
		ch:  make(chan TickEntry, 1024),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop()
	}()
	return l
}

// WriteTick never blocks; entries are dropped and counted when the writer is behind.
func (l *TickLog) WriteTick(e TickEntry) {
	if l == nil || l.closed.Load() {
		return
	}
	select {
	case l.ch <- e:
	default:
		l.dropped.Add(1)
	}
}

func (l *TickLog) Dropped() uint64 { return l.dropped.Load() }
func (l *TickLog) Written() uint64 { return l.written.Load() }

func (l *TickLog) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		l.wg.Wait()
		err = l.w.Close()
	})
	return err
}

func (l *TickLog) loop() {
	flush := time.NewTicker(time.Second)
	defer flush.Stop()
	for {
		select {
		case e, ok := <-l.ch:
			if !ok {
				return
			}
			if err := l.w.Append(e); err != nil {
				l.log.Warn("tick journal write failed", zap.Error(err))
				continue
			}
			l.written.Add(1)
		case <-flush.C:
			if err := l.w.Flush(); err != nil {
				l.log.Warn("tick journal flush failed", zap.Error(err))
			}
		}
	}
}
