package audit

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"drivegate/pkg/types"
)

// MemorySink keeps entries in memory. With a positive capacity only the
// most recent entries are kept.
type MemorySink struct {
	mu       sync.RWMutex
	entries  []types.AuditEntry
	capacity int
}

// NewMemorySink creates an in-memory sink. capacity <= 0 is unbounded.
func NewMemorySink(capacity int) *MemorySink {
	return &MemorySink{capacity: capacity}
}

func (m *MemorySink) Append(_ context.Context, entry types.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	if m.capacity > 0 && len(m.entries) > m.capacity {
		m.entries = append([]types.AuditEntry(nil), m.entries[len(m.entries)-m.capacity:]...)
	}
	return nil
}

func (m *MemorySink) List(_ context.Context, filter Filter) ([]types.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.AuditEntry
	for _, e := range m.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return Tail(out, filter.Limit), nil
}

// Entries returns every stored entry.
func (m *MemorySink) Entries() []types.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.AuditEntry(nil), m.entries...)
}

// Tail keeps the last limit entries. limit <= 0 keeps all.
func Tail(entries []types.AuditEntry, limit int) []types.AuditEntry {
	if limit > 0 && len(entries) > limit {
		return entries[len(entries)-limit:]
	}
	return entries
}

// LogSink writes entries to a zap logger. Failures log at Warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs every entry
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("audit")}
}

func (l *LogSink) Append(_ context.Context, e types.AuditEntry) error {
	fields := []zap.Field{
		zap.String("id", e.ID),
		zap.String("origin", e.Origin),
		zap.String("action", e.Action),
		zap.String("target", e.Target),
		zap.String("outcome", string(e.Outcome)),
		zap.Duration("duration", e.Duration),
	}
	if e.Size != nil {
		fields = append(fields, zap.Int64("size", *e.Size))
	}
	if e.Outcome == types.OutcomeFailure {
		fields = append(fields, zap.String("error_code", e.ErrorCode))
		l.logger.Warn("Operation failed", fields...)
		return nil
	}
	l.logger.Info("Operation succeeded", fields...)
	return nil
}

// MultiSink fans entries out to several sinks.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, entry types.AuditEntry) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Append(ctx, entry))
	}
	return err
}
