package observability

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/hazyhaar/snapwipe/dbopen"
	"github.com/hazyhaar/snapwipe/idgen"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestInit_CreatesAllTables(t *testing.T) {
	db := setupObsDB(t)
	for _, table := range []string{"service_heartbeats", "metrics_timeseries", "render_batches"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
	if err := Init(db); err != nil {
		t.Fatalf("Init is not idempotent: %v", err)
	}
}

// --- MetricsManager ---

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	mm.RecordDuration(MetricRenderDurationMs, 1500*time.Microsecond, map[string]string{"size": "1280x800@2"})
	mm.RecordCount(MetricBatchTasks, 3, nil)
	mm.Close()

	got, err := mm.Query(context.Background(), MetricRenderDurationMs, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("render metrics: got %d", len(got))
	}
	if got[0].Value != 1.5 || got[0].Unit != "milliseconds" || got[0].Labels["size"] != "1280x800@2" {
		t.Fatalf("metric: %+v", got[0])
	}

	all, err := mm.Query(context.Background(), "", nil, nil, 0)
	if err != nil || len(all) != 2 {
		t.Fatalf("all metrics: %d, %v", len(all), err)
	}
}

// WHAT: the buffer fills before the flush interval.
// WHY: a burst of renders must not grow memory until the next tick.
func TestMetricsManager_FlushOnFullBuffer(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour)
	defer mm.Close()

	mm.RecordCount(MetricBatchTasks, 1, nil)
	mm.RecordCount(MetricBatchTasks, 2, nil)

	var count int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&count)
	if count != 2 {
		t.Fatalf("flushed rows: got %d, want 2", count)
	}
}

func TestMetricsManager_QueryWithTimeRange(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	old := time.Now().Add(-2 * time.Hour)
	mm.Record(&Metric{Name: MetricBatchTasks, Timestamp: old, Value: 1, Unit: "count"})
	mm.Record(&Metric{Name: MetricBatchTasks, Value: 2, Unit: "count"})
	mm.Close()

	since := time.Now().Add(-time.Hour)
	got, err := mm.Query(context.Background(), MetricBatchTasks, &since, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 2 {
		t.Fatalf("range query: %+v", got)
	}
}

func TestMetricsManager_CloseTwice(t *testing.T) {
	mm := NewMetricsManager(setupObsDB(t), 10, time.Hour)
	mm.Close()
	mm.Close()
}

// --- BatchLog ---

func TestBatchLog_LogSync(t *testing.T) {
	db := setupObsDB(t)
	bl := NewBatchLog(db, 100, WithBatchIDGenerator(idgen.Fixed("batch_1")))
	defer bl.Close()

	r := &BatchRecord{TaskCount: 2, TraceID: "abc", Duration: 420 * time.Millisecond}
	if err := bl.Log(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if r.BatchID != "batch_1" || r.Status != StatusSuccess || r.Transport != "http" {
		t.Fatalf("defaults not filled: %+v", r)
	}

	got, err := bl.Query(context.Background(), BatchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TaskCount != 2 || got[0].Duration != 420*time.Millisecond || got[0].TraceID != "abc" {
		t.Fatalf("query: %+v", got)
	}
}

func TestBatchLog_LogAsyncDrainsOnClose(t *testing.T) {
	db := setupObsDB(t)
	bl := NewBatchLog(db, 100)
	for i := range 3 {
		bl.LogAsync(&BatchRecord{TaskCount: i + 1, Error: map[bool]string{true: "boom"}[i == 2]})
	}
	bl.Close()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM render_batches").Scan(&count)
	if count != 3 {
		t.Fatalf("async count: got %d", count)
	}
	failed, err := bl.Query(context.Background(), BatchFilter{Status: StatusError})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Error != "boom" {
		t.Fatalf("failed batches: %+v", failed)
	}
}

// WHAT: the async buffer is full.
// WHY: the record must still land, written synchronously.
func TestBatchLog_FullBufferFallsBack(t *testing.T) {
	db := setupObsDB(t)
	bl := &BatchLog{db: db, newID: idgen.NanoID(6), ch: make(chan *BatchRecord)}
	bl.LogAsync(&BatchRecord{TaskCount: 1, Legacy: true})

	got, err := bl.Query(context.Background(), BatchFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Legacy {
		t.Fatalf("fallback insert: %+v", got)
	}
}

func TestBatchLog_QueryLimit(t *testing.T) {
	db := setupObsDB(t)
	bl := NewBatchLog(db, 10)
	defer bl.Close()
	for i := range 5 {
		bl.Log(context.Background(), &BatchRecord{BatchID: fmt.Sprintf("b%d", i), TaskCount: 1})
	}
	got, err := bl.Query(context.Background(), BatchFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("limit: got %d", len(got))
	}
}

// --- Heartbeats ---

func TestCollectRuntimeMetrics(t *testing.T) {
	m := CollectRuntimeMetrics()
	if m.GoroutinesCount <= 0 || m.MemorySysMB <= 0 {
		t.Fatalf("runtime metrics: %+v", m)
	}
}

func TestHeartbeatWriter_WriteAndLatest(t *testing.T) {
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "snapshotd", time.Minute, func() int { return 3 })
	if err := hw.WriteHeartbeat(); err != nil {
		t.Fatal(err)
	}

	hs, err := LatestHeartbeat(context.Background(), db, "snapshotd", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs == nil || !hs.Alive || hs.BrowserInits != 3 {
		t.Fatalf("latest: %+v", hs)
	}

	none, err := LatestHeartbeat(context.Background(), db, "other", time.Minute)
	if err != nil || none != nil {
		t.Fatalf("unknown service: %+v, %v", none, err)
	}
}

func TestHeartbeatWriter_StartStop(t *testing.T) {
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "loop", 20*time.Millisecond, nil)

	hw.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	hw.Stop()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM service_heartbeats WHERE service_name='loop'").Scan(&count)
	if count < 2 {
		t.Fatalf("heartbeat count: got %d, want >= 2", count)
	}
}

// --- Retention ---

func TestCleanup_Retention(t *testing.T) {
	db := setupObsDB(t)
	old := time.Now().Add(-40 * 24 * time.Hour).Unix()
	now := time.Now().Unix()
	db.Exec(`INSERT INTO metrics_timeseries (metric_name, timestamp, value) VALUES ('m', ?, 1), ('m', ?, 2)`, old, now)
	db.Exec(`INSERT INTO render_batches (batch_id, timestamp, transport, task_count, status) VALUES ('old', ?, 'http', 1, 'success')`, old)
	db.Exec(`INSERT INTO service_heartbeats (service_name, hostname, pid, timestamp) VALUES ('s', 'h', 1, ?)`, old)

	err := Cleanup(context.Background(), db, RetentionConfig{MetricsDays: 30, BatchesDays: 30})
	if err != nil {
		t.Fatal(err)
	}

	counts := map[string]int{}
	for _, table := range []string{"metrics_timeseries", "render_batches", "service_heartbeats"} {
		var n int
		db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n)
		counts[table] = n
	}
	if counts["metrics_timeseries"] != 1 || counts["render_batches"] != 0 {
		t.Fatalf("after cleanup: %v", counts)
	}
	// Zero days keeps heartbeats.
	if counts["service_heartbeats"] != 1 {
		t.Fatalf("heartbeats cleaned despite zero retention: %v", counts)
	}
}

func TestStartRetention_StopsWithContext(t *testing.T) {
	db := setupObsDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	StartRetention(ctx, db, RetentionConfig{MetricsDays: 1}, nil)
	cancel()
	// goleak in TestMain verifies the goroutine exits.
	time.Sleep(10 * time.Millisecond)
}
