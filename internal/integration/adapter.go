// Package integration holds the transports that deliver approved visit
// records to jurisdiction compliance systems.
package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careconnect/evv/internal/domain/location"
	"github.com/careconnect/evv/internal/platform/apperr"
)

// Destination identifiers.
const (
	DestinationMaryland = "maryland-info-only"
	DestinationSandata  = "dc-sandata"
	DestinationVirginia = "virginia-mco"
)

// maxResponseBody caps how much of a destination's reply is read.
const maxResponseBody = 64 << 10

// Visit is the snapshot of a record taken when it was queued for
// submission. Later changes to the record never reach it.
type Visit struct {
	RecordID         uuid.UUID          `json:"record_id"`
	PatientID        uuid.UUID          `json:"patient_id"`
	IndividualName   string             `json:"individual_name"`
	CaregiverID      uuid.UUID          `json:"caregiver_id"`
	ServiceType      string             `json:"service_type"`
	DateOfService    string             `json:"date_of_service"`
	TimeIn           time.Time          `json:"time_in"`
	TimeOut          time.Time          `json:"time_out"`
	CheckIn          *location.Snapshot `json:"check_in,omitempty"`
	CheckOut         *location.Snapshot `json:"check_out,omitempty"`
	StateCode        string             `json:"state_code"`
	IsCorrected      bool               `json:"is_corrected"`
	OriginalRecordID *uuid.UUID         `json:"original_record_id,omitempty"`
	ReviewedBy       *uuid.UUID         `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time         `json:"reviewed_at,omitempty"`
	EORApprovedBy    *uuid.UUID         `json:"eor_approved_by,omitempty"`
	EORApprovedAt    *time.Time         `json:"eor_approved_at,omitempty"`
}

// Clone returns a deep copy of v.
func (v Visit) Clone() Visit {
	cp := v
	cp.CheckIn = v.CheckIn.Clone()
	cp.CheckOut = v.CheckOut.Clone()
	if v.OriginalRecordID != nil {
		id := *v.OriginalRecordID
		cp.OriginalRecordID = &id
	}
	if v.ReviewedBy != nil {
		id := *v.ReviewedBy
		cp.ReviewedBy = &id
	}
	if v.ReviewedAt != nil {
		t := *v.ReviewedAt
		cp.ReviewedAt = &t
	}
	if v.EORApprovedBy != nil {
		id := *v.EORApprovedBy
		cp.EORApprovedBy = &id
	}
	if v.EORApprovedAt != nil {
		t := *v.EORApprovedAt
		cp.EORApprovedAt = &t
	}
	return cp
}

// Submission is one delivery of an outbox entry.
type Submission struct {
	EntryID     uuid.UUID
	Destination string
	Attempt     int
	Visit       Visit
}

// Adapter delivers submissions to one destination. Failures are reported as
// *apperr.TransportError.
type Adapter interface {
	Destination() string
	Submit(ctx context.Context, s *Submission) error
}

// Registry maps destination names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds a, replacing any adapter for the same destination.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Destination()] = a
}

func (r *Registry) Lookup(destination string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[destination]
	return a, ok
}

// Destinations lists the registered destinations in sorted order.
func (r *Registry) Destinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for d := range r.adapters {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// -- HTTP transport --

type transport struct {
	client *http.Client
	logger zerolog.Logger
	now    func() time.Time
}

func newTransport(opts []Option) transport {
	t := transport{
		client: &http.Client{},
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// Option configures an adapter.
type Option func(*transport)

// WithHTTPClient overrides the client used for outbound calls. Request
// deadlines come from the caller's context.
func WithHTTPClient(c *http.Client) Option {
	return func(t *transport) { t.client = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *transport) { t.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(t *transport) { t.now = now }
}

// post sends body to url and classifies the outcome. Any non-2xx reply is a
// transport failure.
func (t transport) post(ctx context.Context, destination, url string, headers map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &apperr.TransportError{Destination: destination, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &apperr.TransportError{Destination: destination, Timeout: isTimeout(ctx, err), Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apperr.TransportError{
			Destination: destination,
			StatusCode:  resp.StatusCode,
			Err:         fmt.Errorf("http status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody)),
		}
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
