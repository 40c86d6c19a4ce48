package importer

import (
	"context"

	"go.uber.org/zap"
)

// DefaultBatchSize is the number of bindings sent to the search index per
// flush.
const DefaultBatchSize = 50

// Indexer pushes bindings to the search index.
type Indexer interface {
	Update(ctx context.Context, bindingIDs []int64) error
}

// Marker flags bindings as present in the search index.
type Marker interface {
	MarkIndexed(ctx context.Context, ids []int64) error
}

// IndexQueue batches binding IDs for the search index. Each import call owns
// its queue. A failed flush is logged and the bindings keep is_indexed
// false, so a later reindex picks them up.
type IndexQueue struct {
	indexer Indexer
	marker  Marker
	size    int
	log     *zap.Logger

	pending []int64
	queued  map[int64]struct{}

	indexed int
	failed  int
}

// NewIndexQueue creates a queue flushing every size bindings. A nil indexer
// makes every flush a no-op that leaves the bindings unindexed.
func NewIndexQueue(indexer Indexer, marker Marker, size int) *IndexQueue {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &IndexQueue{
		indexer: indexer,
		marker:  marker,
		size:    size,
		log:     zap.L().With(zap.String("component", "importer.queue")),
		queued:  make(map[int64]struct{}),
	}
}

// Add queues ids, ignoring those already queued, and flushes whenever a
// full batch is pending.
func (q *IndexQueue) Add(ctx context.Context, ids ...int64) {
	for _, id := range ids {
		if _, ok := q.queued[id]; ok {
			continue
		}
		q.queued[id] = struct{}{}
		q.pending = append(q.pending, id)
		if len(q.pending) >= q.size {
			q.Flush(ctx)
		}
	}
}

// Flush sends the pending bindings and marks them indexed on success.
func (q *IndexQueue) Flush(ctx context.Context) {
	if len(q.pending) == 0 {
		return
	}
	batch := q.pending
	q.pending = nil

	if q.indexer == nil {
		q.failed += len(batch)
		return
	}

	if err := q.indexer.Update(ctx, batch); err != nil {
		q.failed += len(batch)
		q.log.Warn("search index update failed, bindings left for reindex",
			zap.Int("bindings", len(batch)),
			zap.Error(err),
		)
		return
	}

	if err := q.marker.MarkIndexed(ctx, batch); err != nil {
		q.failed += len(batch)
		q.log.Warn("mark bindings indexed failed", zap.Int("bindings", len(batch)), zap.Error(err))
		return
	}
	q.indexed += len(batch)
	q.log.Debug("flushed bindings to search index", zap.Int("bindings", len(batch)))
}

// Stats returns how many bindings were indexed and how many were left
// unindexed by failed or disabled flushes.
func (q *IndexQueue) Stats() (indexed, failed int) {
	return q.indexed, q.failed
}
