package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careconnect/evv/internal/config"
	"github.com/careconnect/evv/internal/domain/patient"
	"github.com/careconnect/evv/internal/platform/auth"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                "0",
		Env:                 "development",
		Store:               config.StoreMemory,
		RequestTimeout:      5 * time.Second,
		SyncInterval:        time.Minute,
		SyncRetryInterval:   30 * time.Minute,
		SyncMaxAttempts:     3,
		SyncWorkers:         2,
		DispatchInterval:    time.Minute,
		DispatchBatchSize:   10,
		DispatchMaxAttempts: 5,
		DispatchConcurrency: 2,
		AdapterTimeout:      time.Second,
		SandataBaseURL:      "http://127.0.0.1:1",
	}
}

func newTestApp(t *testing.T) (*app, *echo.Echo) {
	t.Helper()
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, err := newApp(context.Background(), cfg, newLogger(io.Discard, cfg))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(a.close)
	return a, a.echo()
}

func do(e *echo.Echo, method, target, body string, actor uuid.UUID) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if actor != uuid.Nil {
		req.Header.Set(auth.ActorHeader, actor.String())
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// -- Infrastructure --

func TestHealth(t *testing.T) {
	_, e := newTestApp(t)

	rec := do(e, http.MethodGet, "/health", "", uuid.Nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["status"] != "ok" || body["version"] != version {
		t.Errorf("unexpected body: %v", body)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on public routes")
	}
}

func TestHealthDB_MemoryStore(t *testing.T) {
	_, e := newTestApp(t)

	rec := do(e, http.MethodGet, "/health/db", "", uuid.Nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMetrics(t *testing.T) {
	_, e := newTestApp(t)

	rec := do(e, http.MethodGet, "/metrics", "", uuid.Nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected runtime collectors in the metrics output")
	}
}

func TestAPI_RequiresActor(t *testing.T) {
	_, e := newTestApp(t)

	rec := do(e, http.MethodGet, "/api/v1/evv/offline/status", "", uuid.Nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

// -- Record flow --

func TestCreateRecordThenAudit(t *testing.T) {
	a, e := newTestApp(t)
	p := &patient.Patient{ID: uuid.New(), FirstName: "Florence", LastName: "Nightingale"}
	a.patients.Put(p)
	actor := uuid.New()

	body := fmt.Sprintf(`{
		"patient_id": %q,
		"caregiver_id": %q,
		"service_type": "Personal Care",
		"date_of_service": "2024-03-04",
		"time_in": "2024-03-04T09:00:00Z",
		"time_out": "2024-03-04T11:00:00Z",
		"checkin_location": {"source": "GPS", "lat": 38.9, "lng": -77.03},
		"state_code": "DC"
	}`, p.ID, uuid.New())
	rec := do(e, http.MethodPost, "/api/v1/evv/records", body, actor)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec = do(e, http.MethodGet, "/api/v1/evv/records/"+created.ID.String()+"/audit/verify", "", actor)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var v struct {
		Valid  bool `json:"valid"`
		Events int  `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Valid {
		t.Errorf("expected a valid audit chain, got %s", rec.Body.String())
	}
}

func TestOfflineCaptureThenSync(t *testing.T) {
	a, e := newTestApp(t)
	p := &patient.Patient{ID: uuid.New(), FirstName: "Mary", LastName: "Breckinridge"}
	a.patients.Put(p)
	actor := uuid.New()

	body := fmt.Sprintf(`{
		"patient_id": %q,
		"caregiver_id": %q,
		"service_type": "Personal Care",
		"date_of_service": "2024-03-04",
		"time_in": "2024-03-04T09:00:00Z",
		"time_out": "2024-03-04T11:00:00Z",
		"checkin_location": {"source": "GPS", "lat": 39.29, "lng": -76.61},
		"state_code": "MD"
	}`, p.ID, actor)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/evv/records/offline", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(auth.ActorHeader, actor.String())
	req.Header.Set("X-Device-ID", "tablet-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	res, err := a.syncer.SyncPending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Synced != 1 || res.Failed != 0 {
		t.Errorf("unexpected sync result: %+v", res)
	}
}

// -- Jobs --

func TestJobs(t *testing.T) {
	a, _ := newTestApp(t)

	want := map[string]time.Duration{
		jobOfflineSync:    a.cfg.SyncInterval,
		jobSyncRetry:      a.cfg.SyncRetryInterval,
		jobOutboxDispatch: a.cfg.DispatchInterval,
	}
	jobs := a.jobs()
	if len(jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(jobs))
	}
	for _, j := range jobs {
		interval, ok := want[j.Name]
		if !ok {
			t.Errorf("unexpected job %q", j.Name)
			continue
		}
		if j.Interval != interval {
			t.Errorf("job %s: expected interval %s, got %s", j.Name, interval, j.Interval)
		}
		if j.Name == jobOutboxDispatch && j.LockTTL < a.dispatcher.SweepBudget() {
			t.Errorf("job %s: lock TTL %s is shorter than a full sweep", j.Name, j.LockTTL)
		}
		if err := j.Run(context.Background()); err != nil {
			t.Errorf("job %s: unexpected error: %v", j.Name, err)
		}
	}
}
