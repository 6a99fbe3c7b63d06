package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"storefront-agent/models"
)

// Indexer re-embeds stale catalog items in the background. It never runs on
// the customer request path.
type Indexer struct {
	catalog     CatalogStore
	index       SemanticIndex
	embedder    Embedder
	batchSize   int
	concurrency int
	timeout     time.Duration
	now         func() time.Time
}

type IndexerOptions struct {
	BatchSize   int
	Concurrency int
	Timeout     time.Duration // per embedding call
}

func NewIndexer(catalog CatalogStore, index SemanticIndex, embedder Embedder, opts IndexerOptions) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Indexer{
		catalog:     catalog,
		index:       index,
		embedder:    embedder,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		now:         time.Now,
	}
}

// IndexRunResult summarizes one indexing pass.
type IndexRunResult struct {
	Embedded int
	Skipped  int
	Failed   int
}

// RunOnce embeds one batch of stale items. Per-item failures are recorded on
// the item and do not fail the run.
func (ix *Indexer) RunOnce(ctx context.Context) (IndexRunResult, error) {
	var result IndexRunResult

	items, err := ix.catalog.ListStale(ctx, ix.batchSize)
	if err != nil {
		return result, err
	}
	if len(items) == 0 {
		return result, nil
	}

	outcomes := make([]string, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for i := range items {
		i := i
		g.Go(func() error {
			outcomes[i] = ix.embedItem(gctx, &items[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch o {
		case "embedded":
			result.Embedded++
		case "skipped":
			result.Skipped++
		default:
			result.Failed++
		}
		Embeddings.WithLabelValues(o).Inc()
	}

	slog.Info("Catalog indexing pass completed",
		"embedded", result.Embedded,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// Start schedules indexing passes on c, skipping a tick while the previous
// pass is still running.
func (ix *Indexer) Start(ctx context.Context, c *cron.Cron, schedule string) (cron.EntryID, error) {
	job := cron.NewChain(cron.SkipIfStillRunning(NewCronLogger())).Then(cron.FuncJob(func() {
		if _, err := ix.RunOnce(ctx); err != nil {
			slog.Error("Indexing pass failed", "error", err)
		}
	}))
	return c.AddJob(schedule, job)
}

func (ix *Indexer) embedItem(ctx context.Context, item *models.CatalogItem) string {
	version := item.ContentVersion
	text := BuildEmbeddingText(item)

	if text == "" {
		// un-embeddable: mark current with an empty vector so retrieval skips it
		if err := ix.catalog.SaveEmbedding(ctx, item.ID, version, "", nil, ix.now()); err != nil {
			slog.Error("Failed to mark empty catalog item", "itemID", item.ID, "error", err)
			return "failed"
		}
		if err := ix.index.Remove(ctx, item.ID); err != nil {
			slog.Warn("Failed to remove empty item from vector index", "itemID", item.ID, "error", err)
		}
		return "skipped"
	}

	embedCtx, cancel := context.WithTimeout(ctx, ix.timeout)
	vector, err := ix.embedder.Embed(embedCtx, text)
	cancel()
	if err != nil || len(vector) == 0 {
		reason := "empty vector"
		if err != nil {
			reason = err.Error()
		}
		slog.Warn("Failed to embed catalog item, keeping previous vector",
			"itemID", item.ID,
			"tenantID", item.TenantID,
			"attempts", item.EmbedAttempts+1,
			"error", reason,
		)
		if recErr := ix.catalog.RecordEmbedFailure(ctx, item.ID, reason); recErr != nil {
			slog.Error("Failed to record embed failure", "itemID", item.ID, "error", recErr)
		}
		return "failed"
	}

	// index first: a vector visible in the index before the catalog is marked
	// fresh is still filtered out as stale by retrieval
	if err := ix.index.Upsert(ctx, item.ID, item.TenantID, version, vector); err != nil {
		slog.Error("Failed to upsert vector", "itemID", item.ID, "error", err)
		_ = ix.catalog.RecordEmbedFailure(ctx, item.ID, err.Error())
		return "failed"
	}
	if err := ix.catalog.SaveEmbedding(ctx, item.ID, version, text, vector, ix.now()); err != nil {
		slog.Error("Failed to save embedding", "itemID", item.ID, "error", err)
		return "failed"
	}
	return "embedded"
}
