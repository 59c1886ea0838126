package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"go.uber.org/zap"
)

const (
	defaultJournalBuffer = 1024
	journalBatchSize     = 100
	journalFlushInterval = time.Second
	journalFlushTimeout  = 5 * time.Second
)

// RecordWriter persists record batches. PostgresClient implements it.
type RecordWriter interface {
	InsertRecords(ctx context.Context, records []diagnostics.Record) error
}

// Journal is a diagnostics sink that writes records in batches off the
// emitting goroutine. Records are dropped when the buffer is full.
type Journal struct {
	writer  RecordWriter
	records chan diagnostics.Record
	dropped atomic.Uint64
	logger  *zap.Logger
}

func NewJournal(writer RecordWriter, buffer int, logger *zap.Logger) *Journal {
	if buffer <= 0 {
		buffer = defaultJournalBuffer
	}
	return &Journal{
		writer:  writer,
		records: make(chan diagnostics.Record, buffer),
		logger:  logger,
	}
}

func (j *Journal) Record(r diagnostics.Record) {
	select {
	case j.records <- r:
	default:
		j.dropped.Add(1)
	}
}

// Dropped returns how many records were lost to a full buffer.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

// Run writes batches until ctx is done, then flushes what is buffered.
func (j *Journal) Run(ctx context.Context) {
	ticker := time.NewTicker(journalFlushInterval)
	defer ticker.Stop()

	batch := make([]diagnostics.Record, 0, journalBatchSize)
	for {
		select {
		case r := <-j.records:
			batch = append(batch, r)
			if len(batch) >= journalBatchSize {
				batch = j.flush(ctx, batch)
			}
		case <-ticker.C:
			batch = j.flush(ctx, batch)
		case <-ctx.Done():
			j.drain(batch)
			return
		}
	}
}

func (j *Journal) drain(batch []diagnostics.Record) {
	for {
		select {
		case r := <-j.records:
			batch = append(batch, r)
		default:
			ctx, cancel := context.WithTimeout(context.Background(), journalFlushTimeout)
			defer cancel()
			j.flush(ctx, batch)
			return
		}
	}
}

func (j *Journal) flush(ctx context.Context, batch []diagnostics.Record) []diagnostics.Record {
	if len(batch) == 0 {
		return batch
	}
	if err := j.writer.InsertRecords(ctx, batch); err != nil {
		j.logger.Warn("Failed to write diagnostics journal",
			zap.Int("records", len(batch)),
			zap.Error(err))
	}
	return batch[:0]
}
