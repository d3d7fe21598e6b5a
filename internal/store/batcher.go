package store

import (
	"context"
	"fmt"

	"offresync/sync-service/internal/model"
)

// DefaultChunkSize is the number of rows sent per upsert.
const DefaultChunkSize = 1000

// Upserter writes one chunk of offers. Store implements it.
type Upserter interface {
	UpsertOffers(ctx context.Context, offers []model.Offer) error
}

// Batcher splits offers into sequential chunks, one upsert per chunk.
//
// Each chunk is an independent unit of work: a failing chunk stops the
// remaining ones, chunks already written stay written. Across a whole call
// the guarantee is at-least-once, which the idempotent upsert absorbs on the
// next pass.
type Batcher struct {
	up        Upserter
	chunkSize int
}

// NewBatcher returns a Batcher writing through up. chunkSize <= 0 takes
// DefaultChunkSize.
func NewBatcher(up Upserter, chunkSize int) *Batcher {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Batcher{up: up, chunkSize: chunkSize}
}

// UpsertAll writes offers chunk by chunk and returns how many rows the
// completed chunks carried.
func (b *Batcher) UpsertAll(ctx context.Context, offers []model.Offer) (int, error) {
	upserted := 0
	for start := 0; start < len(offers); start += b.chunkSize {
		if err := ctx.Err(); err != nil {
			return upserted, err
		}
		end := min(start+b.chunkSize, len(offers))
		if err := b.up.UpsertOffers(ctx, offers[start:end]); err != nil {
			return upserted, fmt.Errorf("upsert chunk %d (rows %d-%d): %w",
				start/b.chunkSize, start, end-1, err)
		}
		upserted += end - start
	}
	return upserted, nil
}
