package vector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/codeaudit/internal/db"
	"github.com/thebtf/codeaudit/pkg/models"
)

// buildQueueSize is the buffer size for build notifications.
const buildQueueSize = 256

// buildBatchSize caps how many pending rows one pass claims.
const buildBatchSize = 100

// Builder moves pending embeddings into the ANN index asynchronously. The
// write that created an embedding never waits on it; a full queue only means
// the next pass starts from the table instead of a notification. Build
// failures are marked on the row and retried by the maintenance cycle.
type Builder struct {
	source db.EmbeddingSource
	index  Index

	queue       chan struct{}
	stopCh      chan struct{}
	wg          sync.WaitGroup
	started     atomic.Bool
	startOnce   sync.Once
	totalBuilt  atomic.Int64
	totalFailed atomic.Int64
}

// NewBuilder creates a builder and starts its worker.
func NewBuilder(source db.EmbeddingSource, index Index) *Builder {
	b := &Builder{
		source: source,
		index:  index,
		queue:  make(chan struct{}, buildQueueSize),
		stopCh: make(chan struct{}),
	}
	b.start()
	return b
}

// start launches the background worker.
func (b *Builder) start() {
	b.startOnce.Do(func() {
		b.started.Store(true)
		b.wg.Add(1)
		go b.worker()
	})
}

// Notify signals that pending embeddings exist. Non-blocking; coalesced.
func (b *Builder) Notify() {
	select {
	case b.queue <- struct{}{}:
	default:
	}
}

// worker drains notifications and builds pending rows.
func (b *Builder) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			return
		case <-b.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := b.ProcessPending(ctx, false); err != nil {
				log.Warn().Err(err).Msg("Index build pass failed")
			}
			cancel()
		}
	}
}

// ProcessPending claims pending embeddings and inserts them into the index,
// one batch per call. includeFailed retries rows from earlier failed builds;
// the maintenance cycle sets it. Returns the number of embeddings indexed.
func (b *Builder) ProcessPending(ctx context.Context, includeFailed bool) (int, error) {
	embeddings, err := b.source.ClaimPending(ctx, includeFailed, buildBatchSize)
	if err != nil {
		return 0, err
	}
	if len(embeddings) == 0 {
		return 0, nil
	}

	indexed := make([]int64, 0, len(embeddings))
	for _, e := range embeddings {
		err := b.index.Insert(ctx, Entry{
			ID:        e.ID,
			ProjectID: e.ProjectID,
			Model:     e.Model,
			Vector:    e.Vector,
		})
		if err != nil {
			b.totalFailed.Add(1)
			log.Warn().Err(err).Int64("embeddingId", e.ID).Msg("Failed to index embedding")
			if markErr := b.source.MarkFailed(ctx, e.ID, err); markErr != nil {
				log.Warn().Err(markErr).Int64("embeddingId", e.ID).Msg("Failed to mark embedding failed")
			}
			continue
		}
		indexed = append(indexed, e.ID)
	}

	if err := b.source.MarkIndexed(ctx, indexed); err != nil {
		return len(indexed), err
	}
	b.totalBuilt.Add(int64(len(indexed)))

	log.Debug().
		Int("indexed", len(indexed)).
		Int("claimed", len(embeddings)).
		Msg("Index build pass complete")

	// More rows may remain beyond the batch cap.
	if len(embeddings) == buildBatchSize {
		b.Notify()
	}
	return len(indexed), nil
}

// Evict removes embeddings from the index, e.g. after a project delete.
func (b *Builder) Evict(ctx context.Context, ids []int64) {
	if len(ids) == 0 {
		return
	}
	if err := b.index.Remove(ctx, ids); err != nil {
		log.Warn().Err(err).Int("count", len(ids)).Msg("Failed to evict embeddings from index")
	}
}

// Stats returns builder counters.
func (b *Builder) Stats() (built, failed int64) {
	return b.totalBuilt.Load(), b.totalFailed.Load()
}

// Close stops the worker and waits for it to finish.
func (b *Builder) Close() {
	if b.started.Load() {
		close(b.stopCh)
		b.wg.Wait()
	}
}

// Rebuild reloads the index from scratch for one (project, model) corpus.
// Used when the index implementation is in-memory and the process restarts.
type RebuildSource interface {
	ListByProjectModel(ctx context.Context, projectID, model string) ([]*models.Embedding, error)
}

// RebuildProject reinserts every stored vector of a project and model.
func (b *Builder) RebuildProject(ctx context.Context, src RebuildSource, projectID, model string) error {
	embeddings, err := src.ListByProjectModel(ctx, projectID, model)
	if err != nil {
		return err
	}
	for _, e := range embeddings {
		if e.IndexState != models.IndexIndexed {
			continue
		}
		err := b.index.Insert(ctx, Entry{
			ID:        e.ID,
			ProjectID: e.ProjectID,
			Model:     e.Model,
			Vector:    e.Vector,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
