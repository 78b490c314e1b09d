package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signal-engine/internal/filter"
	"signal-engine/internal/strategy"
	"signal-engine/pkg/db"
)

type memSignals struct {
	mu      sync.Mutex
	batches [][]db.SignalRecord
	err     error
}

func (m *memSignals) SaveSignals(_ context.Context, records []db.SignalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, records)
	return m.err
}

func (m *memSignals) count() (batches, records int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		records += len(b)
	}
	return len(m.batches), records
}

func result(approved bool) filter.ProcessResult {
	return filter.ProcessResult{
		Signal:           strategy.Signal{Strategy: "alphatrend", Symbol: "ETHUSDT", Action: strategy.ActionBuy, Timeframe: "15m", Price: 100, Timestamp: 1740823200000},
		Approved:         approved,
		Reason:           "Local filter: ADX too low",
		FilterResults:    filter.Results{Global: filter.Outcome{Passed: true, Reason: "ok"}},
		ProcessingTimeMs: 12,
	}
}

func TestFlushOnMaxSize(t *testing.T) {
	store := &memSignals{}
	w := NewSignalWriter(store, 2, time.Hour, nil)
	defer w.Close()

	w.Record(result(true))
	if w.Pending() != 1 {
		t.Fatalf("pending=%d, expected 1", w.Pending())
	}
	w.Record(result(false))

	batches, records := store.count()
	if batches != 1 || records != 2 || w.Pending() != 0 {
		t.Fatalf("batches=%d records=%d pending=%d, expected 1/2/0", batches, records, w.Pending())
	}
	r := store.batches[0][0]
	if r.Symbol != "ETHUSDT" || !r.Approved || r.ProcessingMs != 12 || r.ReceivedAt.UnixMilli() != 1740823200000 || r.ID == "" {
		t.Fatalf("record=%+v", r)
	}
	if r.FilterResults == "" || r.FilterResults[0] != '{' {
		t.Fatalf("filter results=%q, expected JSON", r.FilterResults)
	}
}

func TestCloseFlushesRemainder(t *testing.T) {
	store := &memSignals{}
	w := NewSignalWriter(store, 50, time.Hour, nil)
	w.Record(result(true))
	w.Close()
	w.Close()

	if _, records := store.count(); records != 1 {
		t.Fatalf("records=%d, expected 1", records)
	}
}

func TestFlushErrorCounted(t *testing.T) {
	store := &memSignals{err: errors.New("disk full")}
	w := NewSignalWriter(store, 50, time.Hour, nil)
	defer w.Close()

	w.Record(result(false))
	if err := w.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush error")
	}
	m := w.Metrics()
	if m.TotalErrors != 1 || m.TotalWrites != 1 || m.LastBatchSize != 1 {
		t.Fatalf("metrics=%+v", m)
	}
}
