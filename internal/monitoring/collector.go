package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ddi-catalog/internal/model"
)

// runScanLimit caps how many recent import runs a snapshot inspects.
const runScanLimit = 1000

// MetricsSnapshot holds a point-in-time view of catalog health.
type MetricsSnapshot struct {
	// Import runs started within the lookback window.
	ImportTotal    int     `json:"import_total"`
	ImportComplete int     `json:"import_complete"`
	ImportPartial  int     `json:"import_partial"`
	ImportFailed   int     `json:"import_failed"`
	ImportRunning  int     `json:"import_running"`
	ImportFailRate float64 `json:"import_fail_rate"`
	RowsImported   int     `json:"rows_imported"`

	// Catalog state.
	Surveys   int64 `json:"surveys"`
	Bindings  int64 `json:"bindings"`
	Unindexed int64 `json:"unindexed"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the read side of the store the collector needs.
type Source interface {
	ListImportRuns(ctx context.Context, limit int) ([]model.ImportRun, error)
	Counts(ctx context.Context) (*model.CatalogCounts, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store Source
}

// NewCollector creates a new metrics collector.
func NewCollector(st Source) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListImportRuns(ctx, runScanLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list import runs")
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.ImportTotal++
		snap.RowsImported += r.Result.Rows
		switch r.Status {
		case model.ImportStatusComplete:
			snap.ImportComplete++
		case model.ImportStatusPartial:
			snap.ImportPartial++
		case model.ImportStatusFailed:
			snap.ImportFailed++
		case model.ImportStatusRunning:
			snap.ImportRunning++
		}
	}

	// Partial runs count as finished but not failed.
	if finished := snap.finished(); finished > 0 {
		snap.ImportFailRate = float64(snap.ImportFailed) / float64(finished)
	}

	counts, err := c.store.Counts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count catalog")
	}
	snap.Surveys = counts.Surveys
	snap.Bindings = counts.Bindings
	snap.Unindexed = counts.Unindexed

	return snap, nil
}

func (s *MetricsSnapshot) finished() int {
	return s.ImportComplete + s.ImportPartial + s.ImportFailed
}
