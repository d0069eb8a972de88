package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/snapwipe/dbopen"
	"github.com/hazyhaar/snapwipe/idgen"
)

// Batch statuses.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// BatchRecord is the outcome of one render request.
type BatchRecord struct {
	BatchID    string
	Timestamp  time.Time
	TraceID    string
	Transport  string // "http" or "mcp"
	RemoteAddr string
	TaskCount  int
	Legacy     bool // single-task request shape
	Status     string
	Error      string
	Duration   time.Duration
}

// BatchFilter controls Query results. Zero fields are unbounded.
type BatchFilter struct {
	Since  time.Time
	Status string
	Limit  int // default 100
}

// BatchLog persists render batch outcomes asynchronously.
type BatchLog struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *BatchRecord
	stop  chan struct{}
	done  chan struct{}
}

// BatchLogOption configures a BatchLog.
type BatchLogOption func(*BatchLog)

// WithBatchIDGenerator sets the generator for batch IDs.
func WithBatchIDGenerator(gen idgen.Generator) BatchLogOption {
	return func(l *BatchLog) { l.newID = gen }
}

// NewBatchLog creates an async batch log. Typical bufferSize: 1000.
func NewBatchLog(db *sql.DB, bufferSize int, opts ...BatchLogOption) *BatchLog {
	l := &BatchLog{
		db:    db,
		newID: idgen.Prefixed("batch_", idgen.Default),
		ch:    make(chan *BatchRecord, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// NewID returns a fresh batch ID.
func (l *BatchLog) NewID() string {
	return l.newID()
}

// Log inserts r synchronously.
func (l *BatchLog) Log(ctx context.Context, r *BatchRecord) error {
	l.fillDefaults(r)
	return insertBatch(ctx, l.db, r)
}

// LogAsync queues r, falling back to a synchronous insert when the buffer
// is full.
func (l *BatchLog) LogAsync(r *BatchRecord) {
	l.fillDefaults(r)
	select {
	case l.ch <- r:
	default:
		slog.Warn("observability batches: buffer full, sync fallback", "batch_id", r.BatchID)
		if err := insertBatch(context.Background(), l.db, r); err != nil {
			slog.Error("observability batches: sync fallback failed", "error", err)
		}
	}
}

// Query returns batches matching f, newest first.
func (l *BatchLog) Query(ctx context.Context, f BatchFilter) ([]*BatchRecord, error) {
	q := `SELECT batch_id, timestamp, trace_id, transport, remote_addr, task_count,
		legacy, status, error_message, duration_ms FROM render_batches WHERE 1=1`
	var args []any
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.Unix())
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY timestamp DESC, batch_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query batches: %w", err)
	}
	defer rows.Close()

	var out []*BatchRecord
	for rows.Next() {
		var r BatchRecord
		var ts int64
		var traceID, remote, errMsg sql.NullString
		var legacy int
		var durationMs sql.NullInt64
		if err := rows.Scan(&r.BatchID, &ts, &traceID, &r.Transport, &remote, &r.TaskCount,
			&legacy, &r.Status, &errMsg, &durationMs); err != nil {
			return nil, fmt.Errorf("observability: scan batch: %w", err)
		}
		r.Timestamp = time.Unix(ts, 0)
		r.TraceID = traceID.String
		r.RemoteAddr = remote.String
		r.Error = errMsg.String
		r.Legacy = legacy == 1
		r.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Close drains the buffer and stops the flush goroutine.
func (l *BatchLog) Close() error {
	close(l.stop)
	<-l.done
	return nil
}

func (l *BatchLog) fillDefaults(r *BatchRecord) {
	if r.BatchID == "" {
		r.BatchID = l.newID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.Transport == "" {
		r.Transport = "http"
	}
	if r.Status == "" {
		if r.Error != "" {
			r.Status = StatusError
		} else {
			r.Status = StatusSuccess
		}
	}
}

func (l *BatchLog) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	batch := make([]*BatchRecord, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, r := range batch {
			if err := insertBatch(ctx, l.db, r); err != nil {
				slog.Error("observability batches: insert", "error", err, "batch_id", r.BatchID)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case r := <-l.ch:
					batch = append(batch, r)
				default:
					flush()
					return
				}
			}
		case r := <-l.ch:
			batch = append(batch, r)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func insertBatch(ctx context.Context, db *sql.DB, r *BatchRecord) error {
	legacy := 0
	if r.Legacy {
		legacy = 1
	}
	_, err := dbopen.Exec(ctx, db, `INSERT INTO render_batches
		(batch_id, timestamp, trace_id, transport, remote_addr, task_count,
		 legacy, status, error_message, duration_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		r.BatchID, r.Timestamp.Unix(), r.TraceID, r.Transport, r.RemoteAddr, r.TaskCount,
		legacy, r.Status, r.Error, r.Duration.Milliseconds())
	return err
}
