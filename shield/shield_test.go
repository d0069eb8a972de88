package shield

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/snapwipe/dbopen"
	"github.com/hazyhaar/snapwipe/kit"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not JSON: %q", w.Body.String())
	}
	return body["error"]
}

// WHAT: the referer host differs from the request host.
// WHY: third parties must not be able to drive the render farm.
func TestSameOrigin_Mismatch(t *testing.T) {
	h := SameOrigin(okHandler())
	req := httptest.NewRequest("POST", "http://site.example/api/snapshot", strings.NewReader(`{"tasks":[]}`))
	req.Header.Set("Referer", "https://evil.example/page")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", w.Code)
	}
	if got := errorBody(t, w); got != "Unauthorized" {
		t.Fatalf("error: got %q", got)
	}
}

func TestSameOrigin_Match(t *testing.T) {
	h := SameOrigin(okHandler())
	req := httptest.NewRequest("POST", "http://site.example/api/snapshot", nil)
	req.Header.Set("Referer", "https://Site.Example/blog/post?x=1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}
}

func TestSameOrigin_PortMatters(t *testing.T) {
	h := SameOrigin(okHandler())
	req := httptest.NewRequest("POST", "http://localhost:3000/api/snapshot", nil)
	req.Header.Set("Referer", "http://localhost:4000/")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", w.Code)
	}
}

// WHAT: no Referer at all.
// WHY: an absent header cannot prove same origin.
func TestSameOrigin_MissingReferer(t *testing.T) {
	h := SameOrigin(okHandler())
	req := httptest.NewRequest("POST", "http://site.example/api/snapshot", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", w.Code)
	}
}

func TestRateLimiter_Blocks(t *testing.T) {
	db := setupDB(t)
	db.Exec(`UPDATE rate_limits SET max_requests = 2 WHERE endpoint = 'POST /api/snapshot'`)
	rl := NewRateLimiter(db, "/healthz")
	h := rl.Middleware(okHandler())

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest("POST", "/api/snapshot", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			if got := errorBody(t, w); got != "rate limit exceeded" {
				t.Fatalf("error: got %q", got)
			}
			if ra := w.Header().Get("Retry-After"); ra != "60" {
				t.Fatalf("Retry-After: got %q", ra)
			}
		}
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != 429 {
		t.Fatalf("codes: got %v", codes)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest("POST", "/api/snapshot", nil)
	req.RemoteAddr = "198.51.100.1:1"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("other ip: got %d", w.Code)
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	db := setupDB(t)
	db.Exec(`UPDATE rate_limits SET max_requests = 1 WHERE endpoint = 'POST /api/snapshot'`)
	rl := NewRateLimiter(db)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if ok, _ := rl.allow("ip", "POST /api/snapshot"); !ok {
		t.Fatal("first request blocked")
	}
	if ok, _ := rl.allow("ip", "POST /api/snapshot"); ok {
		t.Fatal("second request allowed")
	}
	now = now.Add(61 * time.Second)
	if ok, _ := rl.allow("ip", "POST /api/snapshot"); !ok {
		t.Fatal("request blocked after window")
	}

	now = now.Add(61 * time.Second)
	rl.gc()
	empty := true
	rl.buckets.Range(func(any, any) bool { empty = false; return false })
	if !empty {
		t.Fatal("expired bucket not collected")
	}
}

func TestRateLimiter_UnknownEndpointAndExclude(t *testing.T) {
	db := setupDB(t)
	db.Exec(`INSERT INTO rate_limits (endpoint, max_requests) VALUES ('GET /healthz', 0)`)
	rl := NewRateLimiter(db, "/healthz")
	h := rl.Middleware(okHandler())
	for _, path := range []string{"/healthz", "/api/other"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: got %d", path, w.Code)
		}
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := ExtractIP(req); got != "10.0.0.1" {
		t.Fatalf("remote addr: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.9" {
		t.Fatalf("forwarded: got %q", got)
	}
}

func TestDrain_OffByDefault(t *testing.T) {
	db := setupDB(t)
	dm := NewDrainMode(db)
	if dm.Active() {
		t.Fatal("drain active on fresh schema")
	}
	w := httptest.NewRecorder()
	dm.Middleware(okHandler()).ServeHTTP(w, httptest.NewRequest("POST", "/api/snapshot", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
}

// WHAT: the drain flag is set in the database.
// WHY: render requests get a JSON 503 while the health path stays up.
func TestDrain_On(t *testing.T) {
	db := setupDB(t)
	db.Exec(`UPDATE drain SET active = 1, message = 'node rotating' WHERE id = 1`)
	dm := NewDrainMode(db, "/healthz")
	h := dm.Middleware(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/snapshot", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", w.Code)
	}
	if got := errorBody(t, w); got != "node rotating" {
		t.Fatalf("error: got %q", got)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: got %d", w.Code)
	}
}

func TestDrain_Toggle(t *testing.T) {
	db := setupDB(t)
	dm := NewDrainMode(db)
	db.Exec(`UPDATE drain SET active = 1 WHERE id = 1`)
	dm.reload()
	if !dm.Active() {
		t.Fatal("expected on")
	}
	db.Exec(`UPDATE drain SET active = 0 WHERE id = 1`)
	dm.reload()
	if dm.Active() {
		t.Fatal("expected off")
	}
}

func TestDrain_NoTable(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if NewDrainMode(db).Active() {
		t.Fatal("expected off when table missing")
	}
}

func TestTraceID(t *testing.T) {
	var traceID string
	var logged bool
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = kit.TraceID(r.Context())
		logged = r.Context().Value(LoggerKey) != nil
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/snapshot", nil))

	if len(traceID) != 8 {
		t.Fatalf("trace id: got %q", traceID)
	}
	if w.Header().Get("X-Trace-ID") != traceID {
		t.Fatal("header does not match context trace id")
	}
	if !logged {
		t.Fatal("request logger not stored")
	}
}

func TestMaxJSONBody(t *testing.T) {
	var readErr error
	h := MaxJSONBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		for readErr == nil {
			_, readErr = r.Body.Read(buf)
		}
	}))
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"html":"0123456789"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var tooLarge *http.MaxBytesError
	if !errors.As(readErr, &tooLarge) {
		t.Fatalf("got %v, want MaxBytesError", readErr)
	}
}

func TestAPIStack(t *testing.T) {
	db := setupDB(t)
	stack := APIStack(db, 1<<20)
	if stack.Drain == nil || stack.Limiter == nil || len(stack.Middlewares) != 6 {
		t.Fatalf("stack: %d middlewares", len(stack.Middlewares))
	}
	var h http.Handler = okHandler()
	for i := len(stack.Middlewares) - 1; i >= 0; i-- {
		h = stack.Middlewares[i](h)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("HEAD", "/api/snapshot", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" || w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("security headers missing: %v", w.Header())
	}
}
