package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// okHandler is a trivial handler that writes 200 OK.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	t.Run("generates_id_when_missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		var seen string
		RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = r.Header.Get("X-Request-ID")
		})).ServeHTTP(rec, req)
		id := rec.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			t.Errorf("expected a generated uuid, got %q", id)
		}
		if seen != id {
			t.Errorf("request header = %q, want generated %q", seen, id)
		}
	})

	t.Run("preserves_provided_id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Request-ID", "my-custom-id")
		RequestID(okHandler).ServeHTTP(rec, req)
		id := rec.Header().Get("X-Request-ID")
		if id != "my-custom-id" {
			t.Errorf("expected preserved ID %q, got %q", "my-custom-id", id)
		}
	})
}

func TestRequestIDRejectsUnusableIDs(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"newline", "abc\nforged=1"},
		{"space", "abc def"},
		{"too_long", strings.Repeat("a", maxRequestIDLen+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("X-Request-ID", tt.id)
			RequestID(okHandler).ServeHTTP(rec, req)
			id := rec.Header().Get("X-Request-ID")
			if id == tt.id {
				t.Fatalf("unusable ID %q was echoed", tt.id)
			}
			if _, err := uuid.Parse(id); err != nil {
				t.Errorf("replacement ID %q is not a uuid", id)
			}
		})
	}
}

func TestLoggerRecordsRunAndCache(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	trigger := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Run-ID", "run-1")
		w.Header().Set("X-Cache", "HIT")
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	Logger(log)(trigger).ServeHTTP(rec, httptest.NewRequest("GET", "/transcribe", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("access log is not JSON: %v (%s)", err, buf.String())
	}
	if entry["run_id"] != "run-1" || entry["cache"] != "HIT" {
		t.Errorf("access log = %v, want run_id and cache", entry)
	}
}

func TestLoggerQuietsHealthAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.InfoLevel)

	rec := httptest.NewRecorder()
	Logger(log)(okHandler).ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
	if buf.Len() != 0 {
		t.Errorf("health request logged at info: %s", buf.String())
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/transcribe", nil)
	req.Header.Set("X-Request-ID", "req-1")
	Logger(log)(okHandler).ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("access log is not JSON: %v (%s)", err, buf.String())
	}
	if entry["path"] != "/transcribe" || entry["request_id"] != "req-1" {
		t.Errorf("access log = %v", entry)
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
}

func TestRecoverer(t *testing.T) {
	t.Run("normal_request_passes_through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		Recoverer(okHandler).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})

	t.Run("panic_produces_500_json", func(t *testing.T) {
		panicker := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		Recoverer(panicker).ServeHTTP(rec, req)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("response is not valid JSON: %v", err)
		}
		if !strings.Contains(body["error"], "internal server error") {
			t.Errorf("expected error message, got %v", body)
		}
	})
}
