package offline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/careconnect/evv/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture(DefaultSyncConfig())
	return NewHandler(f.queue, f.syncer), f, echo.New()
}

func newRequest(method, target, body string, actor uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if actor != uuid.Nil {
		req = req.WithContext(auth.WithActor(req.Context(), actor))
	}
	return req
}

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func (f *fixture) createBody() string {
	return fmt.Sprintf(`{
		"patient_id": %q,
		"caregiver_id": %q,
		"service_type": "Personal Care",
		"date_of_service": "2024-03-04",
		"time_in": "2024-03-04T09:00:00Z",
		"time_out": "2024-03-04T10:30:00Z",
		"checkin_location": {"source": "GPS", "lat": 39.29, "lng": -76.61},
		"state_code": "MD"
	}`, f.patient.ID, f.caregiver)
}

func TestHandler_CreateOfflineRecord(t *testing.T) {
	h, f, e := newTestHandler()
	req := newRequest(http.MethodPost, "/api/v1/evv/records/offline?priority=urgent", f.createBody(), f.caregiver)
	req.Header.Set(DeviceHeader, "tablet-9")
	rec := httptest.NewRecorder()

	if err := h.CreateOfflineRecord(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	var item Item
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item.DeviceID != "tablet-9" || item.Priority != PriorityUrgent || item.SyncStatus != SyncPending {
		t.Errorf("unexpected item %+v", item)
	}
}

func TestHandler_CreateOfflineRecord_BadPriority(t *testing.T) {
	h, f, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodPost, "/?priority=whenever", f.createBody(), f.caregiver), httptest.NewRecorder())
	expectHTTPError(t, h.CreateOfflineRecord(c), http.StatusBadRequest)
}

func TestHandler_CreateOfflineRecord_NoActor(t *testing.T) {
	h, f, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodPost, "/", f.createBody(), uuid.Nil), httptest.NewRecorder())
	expectHTTPError(t, h.CreateOfflineRecord(c), http.StatusUnauthorized)
}

func TestHandler_EnqueueItem_Validation(t *testing.T) {
	h, _, e := newTestHandler()
	body := fmt.Sprintf(`{"operation_type": "MERGE", "record_id": %q, "caregiver_id": %q}`, uuid.New(), uuid.New())
	c := e.NewContext(newRequest(http.MethodPost, "/", body, uuid.Nil), httptest.NewRecorder())
	expectHTTPError(t, h.EnqueueItem(c), http.StatusBadRequest)
}

func TestHandler_SyncAndStatus(t *testing.T) {
	h, f, e := newTestHandler()
	f.capture(t, f.createRequest(), PriorityNormal)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/", "", uuid.Nil), rec)
	c.SetParamNames("caregiverId")
	c.SetParamValues(f.caregiver.String())
	if err := h.SyncCaregiver(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res SyncResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Synced != 1 {
		t.Fatalf("unexpected sync result %+v", res)
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(newRequest(http.MethodGet, "/?caregiverId="+f.caregiver.String(), "", uuid.Nil), rec)
	if err := h.Status(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var st QueueStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Counts[SyncSynced] != 1 || len(st.Items) != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestHandler_SyncCaregiver_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodPost, "/", "", uuid.Nil), httptest.NewRecorder())
	c.SetParamNames("caregiverId")
	c.SetParamValues("nope")
	expectHTTPError(t, h.SyncCaregiver(c), http.StatusBadRequest)
}

func TestHandler_RequeuePendingIs409(t *testing.T) {
	h, f, e := newTestHandler()
	item := f.capture(t, f.createRequest(), PriorityNormal)

	c := e.NewContext(newRequest(http.MethodPost, "/", "", uuid.Nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(item.ID.String())
	expectHTTPError(t, h.RequeueItem(c), http.StatusConflict)
}
