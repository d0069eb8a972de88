package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/snapwipe/dbopen"
)

// RetentionConfig specifies per-table retention in days. Zero keeps rows
// forever.
type RetentionConfig struct {
	MetricsDays    int
	BatchesDays    int
	HeartbeatsDays int
	VacuumAfter    bool
}

// Cleanup deletes rows older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	// Table names are formatted into SQL, so they come only from this list.
	targets := []struct {
		table string
		days  int
	}{
		{"metrics_timeseries", cfg.MetricsDays},
		{"render_batches", cfg.BatchesDays},
		{"service_heartbeats", cfg.HeartbeatsDays},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now - int64(t.days*86400)
		q := fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", t.table)
		if _, err := dbopen.Exec(ctx, db, q, cutoff); err != nil {
			return fmt.Errorf("observability: cleanup %s: %w", t.table, err)
		}
	}

	if cfg.VacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("observability: vacuum: %w", err)
		}
	}
	return nil
}

// StartRetention runs Cleanup once a day until ctx is done.
func StartRetention(ctx context.Context, db *sql.DB, cfg RetentionConfig, logf func(error)) {
	go func() {
		tick := time.NewTicker(24 * time.Hour)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if err := Cleanup(ctx, db, cfg); err != nil && logf != nil {
					logf(err)
				}
			}
		}
	}()
}
