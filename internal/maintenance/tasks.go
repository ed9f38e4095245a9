package maintenance

import (
	"context"
	"fmt"

	"blockrun/internal/dedup"
)

// UsagePruner is the slice of the usage database the retention task needs.
type UsagePruner interface {
	PruneOlderThan(days int) (int64, error)
}

// DedupPruneTask sweeps expired entries out of the dedup cache. The cache
// also lazily evicts on lookup, so this only bounds memory between requests.
type DedupPruneTask struct {
	cache    *dedup.Cache
	schedule string
}

// NewDedupPruneTask creates the dedup sweep task.
func NewDedupPruneTask(cache *dedup.Cache, schedule string) *DedupPruneTask {
	return &DedupPruneTask{cache: cache, schedule: schedule}
}

func (t *DedupPruneTask) Name() string        { return "dedup_prune" }
func (t *DedupPruneTask) Description() string { return "Evict expired dedup cache entries" }
func (t *DedupPruneTask) Schedule() string    { return t.schedule }

func (t *DedupPruneTask) Execute(ctx context.Context) TaskResult {
	pruned := t.cache.Prune()
	return TaskResult{
		Success:          true,
		Message:          fmt.Sprintf("pruned %d expired entries", pruned),
		RecordsProcessed: pruned,
	}
}

// UsageRetentionTask deletes usage records older than the retention window.
type UsageRetentionTask struct {
	db       UsagePruner
	days     int
	schedule string
}

// NewUsageRetentionTask creates the usage retention sweep.
func NewUsageRetentionTask(db UsagePruner, days int, schedule string) *UsageRetentionTask {
	return &UsageRetentionTask{db: db, days: days, schedule: schedule}
}

func (t *UsageRetentionTask) Name() string { return "usage_retention" }
func (t *UsageRetentionTask) Description() string {
	return fmt.Sprintf("Delete usage records older than %d days", t.days)
}
func (t *UsageRetentionTask) Schedule() string { return t.schedule }

func (t *UsageRetentionTask) Execute(ctx context.Context) TaskResult {
	deleted, err := t.db.PruneOlderThan(t.days)
	if err != nil {
		return TaskResult{Success: false, Message: "retention sweep failed", Error: err}
	}
	return TaskResult{
		Success:          true,
		Message:          fmt.Sprintf("deleted %d expired records", deleted),
		RecordsProcessed: int(deleted),
	}
}
