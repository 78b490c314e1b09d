// Package persistence buffers high-frequency writes to the archive.
package persistence

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal-engine/internal/filter"
	"signal-engine/pkg/db"
)

// SignalStore persists a batch of signal records.
type SignalStore interface {
	SaveSignals(ctx context.Context, records []db.SignalRecord) error
}

// SignalWriter batches processed signals and writes them in one transaction
// per flush. Record never blocks on the database.
type SignalWriter struct {
	store       SignalStore
	log         *zap.Logger
	buffer      []db.SignalRecord
	mu          sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	metrics     WriterMetrics
	lastMu      sync.Mutex
}

// WriterMetrics provides statistics about batch operations.
type WriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewSignalWriter starts the background flusher.
// maxSize: max records before auto-flush
// interval: time-based flush interval
func NewSignalWriter(store SignalStore, maxSize int, interval time.Duration, logger *zap.Logger) *SignalWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &SignalWriter{
		store:       store,
		log:         logger.Named("signals"),
		buffer:      make([]db.SignalRecord, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	w.wg.Add(1)
	go w.backgroundFlush()

	return w
}

// Record converts res into a row and queues it.
func (w *SignalWriter) Record(res filter.ProcessResult) {
	w.mu.Lock()
	w.buffer = append(w.buffer, toRecord(res))
	shouldFlush := len(w.buffer) >= w.maxSize
	w.mu.Unlock()

	if shouldFlush {
		w.Flush(context.Background())
	}
}

func toRecord(res filter.ProcessResult) db.SignalRecord {
	fr, _ := json.Marshal(res.FilterResults)
	received := time.Now()
	if res.Signal.Timestamp > 0 {
		received = time.UnixMilli(res.Signal.Timestamp)
	}
	return db.SignalRecord{
		ID:            uuid.NewString(),
		Strategy:      res.Signal.Strategy,
		Symbol:        res.Signal.Symbol,
		Action:        string(res.Signal.Action),
		Timeframe:     res.Signal.Timeframe,
		Price:         res.Signal.Price,
		Approved:      res.Approved,
		Reason:        res.Reason,
		FilterResults: string(fr),
		ProcessingMs:  res.ProcessingTimeMs,
		ReceivedAt:    received,
	}
}

// Flush immediately writes all buffered records.
func (w *SignalWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}

	batch := w.buffer
	w.buffer = make([]db.SignalRecord, 0, w.maxSize)
	w.mu.Unlock()

	atomic.AddUint64(&w.metrics.TotalWrites, uint64(len(batch)))
	atomic.AddUint64(&w.metrics.TotalBatches, 1)
	w.lastMu.Lock()
	w.metrics.LastBatchSize = len(batch)
	w.metrics.LastFlushTime = time.Now()
	w.lastMu.Unlock()

	if err := w.store.SaveSignals(ctx, batch); err != nil {
		atomic.AddUint64(&w.metrics.TotalErrors, 1)
		w.log.Error("signal batch failed", zap.Int("records", len(batch)), zap.Error(err))
		return err
	}
	w.log.Debug("signal batch flushed", zap.Int("records", len(batch)))
	return nil
}

func (w *SignalWriter) backgroundFlush() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Flush(context.Background())
		case <-w.done:
			w.Flush(context.Background())
			return
		}
	}
}

// Pending returns the number of queued records.
func (w *SignalWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

func (w *SignalWriter) Metrics() WriterMetrics {
	w.lastMu.Lock()
	defer w.lastMu.Unlock()
	return WriterMetrics{
		TotalWrites:   atomic.LoadUint64(&w.metrics.TotalWrites),
		TotalBatches:  atomic.LoadUint64(&w.metrics.TotalBatches),
		TotalErrors:   atomic.LoadUint64(&w.metrics.TotalErrors),
		LastBatchSize: w.metrics.LastBatchSize,
		LastFlushTime: w.metrics.LastFlushTime,
	}
}

// Close flushes what is left and stops the flusher.
func (w *SignalWriter) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	return nil
}
