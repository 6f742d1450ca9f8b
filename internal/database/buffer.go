package database

import (
	"context"
	"sync"
)

// Buffer batches records for an IdentityWriter. Records become visible to
// readers only after the buffer writes them, either because the batch is full
// or because Flush was called.
type Buffer struct {
	w    IdentityWriter
	size int

	mu      sync.Mutex
	pending []IdentityRecord
}

// NewBuffer creates a buffer that writes every size records.
func NewBuffer(w IdentityWriter, size int) *Buffer {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Buffer{w: w, size: size}
}

// Add queues records, writing full batches as they fill up.
// A record with the RecordID of one already pending replaces it.
func (b *Buffer) Add(ctx context.Context, records ...IdentityRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, rec := range records {
		b.put(rec)
		if len(b.pending) >= b.size {
			if err := b.flushLocked(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush writes everything still pending.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

// Pending returns the number of records not yet written.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Buffer) put(rec IdentityRecord) {
	for i := range b.pending {
		if b.pending[i].RecordID == rec.RecordID {
			b.pending[i] = rec
			return
		}
	}
	b.pending = append(b.pending, rec)
}

func (b *Buffer) flushLocked(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.w.UpsertBatch(ctx, b.pending); err != nil {
		// Keep the batch so the caller can retry the flush.
		return err
	}
	b.pending = nil
	return nil
}
