package shield

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const defaultDrainMessage = "render service is draining"

// DrainMode answers 503 to every request while the drain flag is set, so a
// render node can be taken out of rotation without killing in-flight work.
// The flag lives in the drain table (one row, id=1) and is cached in memory.
// A missing table or row means the flag is off.
type DrainMode struct {
	db      *sql.DB
	active  atomic.Bool
	message atomic.Value // string
	exclude []string     // path prefixes that bypass the drain (e.g. /healthz)
}

// NewDrainMode creates a drain checker. Paths matching any of
// excludePrefixes are never blocked.
func NewDrainMode(db *sql.DB, excludePrefixes ...string) *DrainMode {
	d := &DrainMode{db: db, exclude: excludePrefixes}
	d.message.Store(defaultDrainMessage)
	d.reload()
	return d
}

// Active reports whether the drain flag is on.
func (d *DrainMode) Active() bool {
	return d.active.Load()
}

// Message returns the current drain message.
func (d *DrainMode) Message() string {
	s, _ := d.message.Load().(string)
	return s
}

// StartReloader reloads the flag every 5 seconds until done is closed.
func (d *DrainMode) StartReloader(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Second)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				d.reload()
			}
		}
	}()
}

func (d *DrainMode) reload() {
	if d.db == nil {
		return
	}
	var active int
	var message string
	err := d.db.QueryRow(`SELECT active, message FROM drain WHERE id = 1`).Scan(&active, &message)
	if err != nil {
		if d.active.Load() {
			slog.Info("drain: flag cleared (table missing or empty)")
		}
		d.active.Store(false)
		return
	}

	was := d.active.Load()
	d.active.Store(active == 1)
	if message != "" {
		d.message.Store(message)
	}

	if active == 1 && !was {
		slog.Warn("drain: ENABLED", "message", message)
	} else if active != 1 && was {
		slog.Info("drain: DISABLED")
	}
}

// Middleware blocks requests with a 503 JSON error while draining.
// Excluded prefixes pass through.
func (d *DrainMode) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !d.active.Load() {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range d.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": d.Message()})
	})
}
