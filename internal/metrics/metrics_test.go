package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeRunStats int

func (f fakeRunStats) RunsInFlight() int { return int(f) }

func TestCollector(t *testing.T) {
	c := NewCollector(nil, fakeRunStats(3))
	if n := testutil.CollectAndCount(c); n != 4 {
		t.Errorf("collected %d metrics, want 4", n)
	}

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "caption_engine_runs_in_flight" {
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 3 {
				t.Errorf("runs_in_flight = %v, want 3", v)
			}
			return
		}
	}
	t.Error("runs_in_flight not gathered")
}

func TestInstrumentHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/api/v1/jobs/{digest}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/jobs/{digest}", "418"))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/abc123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/jobs/{digest}", "418"))
	if after-before != 1 {
		t.Errorf("requests counter delta = %v, want 1 (labelled by route pattern)", after-before)
	}
}
