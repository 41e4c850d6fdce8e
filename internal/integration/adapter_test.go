package integration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careconnect/evv/internal/domain/location"
	"github.com/careconnect/evv/internal/platform/apperr"
)

func ptr(f float64) *float64 { return &f }

func testSubmission() *Submission {
	in := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	return &Submission{
		EntryID:     uuid.New(),
		Destination: DestinationSandata,
		Attempt:     1,
		Visit: Visit{
			RecordID:      uuid.New(),
			ServiceType:   "Personal Care",
			DateOfService: "2024-03-04",
			TimeIn:        in,
			TimeOut:       in.Add(2 * time.Hour),
			CheckIn:       &location.Snapshot{Type: location.TypeGPS, Latitude: ptr(38.9), Longitude: ptr(-77.03)},
			StateCode:     "DC",
		},
	}
}

// -- Registry --

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewMarylandInfoAdapter(zerolog.Nop()), NewSandataAdapter("", "key"))
	r.Register(NewVirginiaMCOAdapter(VirginiaConfig{}))

	for _, d := range []string{DestinationMaryland, DestinationSandata, DestinationVirginia} {
		a, ok := r.Lookup(d)
		if !ok || a.Destination() != d {
			t.Errorf("expected adapter for %s", d)
		}
	}
	if _, ok := r.Lookup("nowhere"); ok {
		t.Error("expected no adapter for unknown destination")
	}
	if got := r.Destinations(); len(got) != 3 || got[0] != DestinationSandata {
		t.Errorf("unexpected destinations %v", got)
	}
}

// -- Sandata --

func TestSandata_Submit(t *testing.T) {
	sub := testSubmission()
	var (
		gotKey  string
		gotPath string
		gotBody sandataVisit
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewSandataAdapter(srv.URL+"/", "secret-key")
	if err := a.Submit(context.Background(), sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotKey != "secret-key" {
		t.Errorf("expected api key header, got %q", gotKey)
	}
	if gotPath != "/altevv/Visits" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if len(gotBody.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(gotBody.Calls))
	}
	in, out := gotBody.Calls[0], gotBody.Calls[1]
	if in.CallAssignment != "In" || out.CallAssignment != "Out" {
		t.Errorf("unexpected assignments %q, %q", in.CallAssignment, out.CallAssignment)
	}
	if in.CallExternalID != sub.Visit.RecordID.String() || out.CallExternalID != sub.Visit.RecordID.String() {
		t.Errorf("expected record id as external id, got %q", in.CallExternalID)
	}
	if in.CallDateTime != "2024-03-04T09:00:00Z" || in.Location != "38.900000,-77.030000" {
		t.Errorf("unexpected check-in call %+v", in)
	}
	if out.Location != "" {
		t.Errorf("expected no location without check-out coordinates, got %q", out.Location)
	}
}

func TestSandata_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, strings.Repeat("x", 2*maxResponseBody))
	}))
	defer srv.Close()

	err := NewSandataAdapter(srv.URL, "k").Submit(context.Background(), testSubmission())

	var te *apperr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusServiceUnavailable || te.Timeout {
		t.Errorf("unexpected transport error %+v", te)
	}
	if !errors.Is(err, apperr.ErrTransport) {
		t.Error("expected errors.Is(err, ErrTransport)")
	}
	if len(te.Err.Error()) > maxResponseBody+64 {
		t.Errorf("response body was not limited: %d bytes", len(te.Err.Error()))
	}
}

func TestSandata_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewSandataAdapter(srv.URL, "k").Submit(ctx, testSubmission())

	var te *apperr.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !te.Timeout {
		t.Errorf("expected timeout flag, got %+v", te)
	}
}

func TestSandata_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewSandataAdapter(url, "k").Submit(context.Background(), testSubmission())
	if !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

// -- Virginia --

func TestVirginia_Submit(t *testing.T) {
	sub := testSubmission()
	now := time.Now()
	var (
		gotAuth string
		gotKey  string
		gotBody Visit
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := VirginiaConfig{Endpoint: srv.URL + "/visits", ClientID: "careconnect", ClientSecret: "s3cret"}
	a := NewVirginiaMCOAdapter(cfg, WithClock(func() time.Time { return now }))
	if err := a.Submit(context.Background(), sub); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotKey != sub.Visit.RecordID.String() {
		t.Errorf("expected idempotency key %s, got %q", sub.Visit.RecordID, gotKey)
	}
	if gotBody.RecordID != sub.Visit.RecordID {
		t.Errorf("unexpected body record id %s", gotBody.RecordID)
	}

	raw := strings.TrimPrefix(gotAuth, "Bearer ")
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithAudience(cfg.Endpoint), jwt.WithIssuer("careconnect"))
	if err != nil {
		t.Fatalf("client assertion did not verify: %v", err)
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) != assertionTTL {
		t.Errorf("unexpected assertion lifetime %v", claims.ExpiresAt.Sub(claims.IssuedAt.Time))
	}
}

func TestVirginia_NoEndpointLogsOnly(t *testing.T) {
	a := NewVirginiaMCOAdapter(VirginiaConfig{}, WithHTTPClient(&http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			t.Fatal("unexpected outbound call")
			return nil, nil
		}),
	}))
	if err := a.Submit(context.Background(), testSubmission()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// -- Maryland --

func TestMaryland_Submit(t *testing.T) {
	if err := NewMarylandInfoAdapter(zerolog.Nop()).Submit(context.Background(), testSubmission()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestVisitClone(t *testing.T) {
	v := testSubmission().Visit
	by := uuid.New()
	v.ReviewedBy = &by

	cp := v.Clone()
	*cp.CheckIn.Latitude = 0
	*cp.ReviewedBy = uuid.Nil

	if *v.CheckIn.Latitude != 38.9 || *v.ReviewedBy != by {
		t.Error("clone shares state with original")
	}
}
