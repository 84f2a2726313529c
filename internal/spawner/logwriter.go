package spawner

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// DefaultFlushInterval is the interval between periodic worker-log flushes.
const DefaultFlushInterval = 5 * time.Second

// tailCap bounds how much trailing stdout is retained for reply composition.
const tailCap = 1024

// logWriter implements io.Writer, buffering worker output and periodically
// flushing to worker_logs via an injected writeFn.
type logWriter struct {
	executionID string
	agentID     string
	direction   string // "out" or "err"

	mu      sync.Mutex
	buf     bytes.Buffer
	writeFn func(models.WorkerLog) error
	onWrite func([]byte) // optional callback invoked on each Write
}

// newLogWriter creates a logWriter that flushes to the DB via db.Create.
// A nil db discards flushed content (tests, dry runs).
func newLogWriter(db *gorm.DB, executionID, agentID, direction string) *logWriter {
	writeFn := func(models.WorkerLog) error { return nil }
	if db != nil {
		writeFn = func(log models.WorkerLog) error {
			return db.Create(&log).Error
		}
	}
	return &logWriter{
		executionID: executionID,
		agentID:     agentID,
		direction:   direction,
		writeFn:     writeFn,
	}
}

// Write appends bytes to the internal buffer (implements io.Writer).
func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.buf.Write(p)
	if w.onWrite != nil {
		w.onWrite(p)
	}
	return n, err
}

// Flush writes accumulated buffer contents to worker_logs and resets the buffer.
func (w *logWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}

	content := w.buf.String()
	w.buf.Reset()

	return w.writeFn(models.WorkerLog{
		ExecutionID: w.executionID,
		AgentID:     w.agentID,
		Direction:   w.direction,
		Content:     content,
		CreatedAt:   time.Now(),
	})
}

// Close performs a final flush.
func (w *logWriter) Close() error {
	return w.Flush()
}

// startFlusher launches a goroutine that periodically flushes the logWriter.
func startFlusher(ctx context.Context, w *logWriter, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Flush()
			}
		}
	}()
}

// tailBuffer keeps the trailing cap bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	cap int
	buf []byte
}

func newTailBuffer(cap int) *tailBuffer {
	return &tailBuffer{cap: cap}
}

func (t *tailBuffer) Write(p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.cap {
		t.buf = t.buf[len(t.buf)-t.cap:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
