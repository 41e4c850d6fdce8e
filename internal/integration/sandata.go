package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/careconnect/evv/internal/domain/location"
	"github.com/careconnect/evv/internal/platform/apperr"
)

const (
	DefaultSandataBaseURL = "https://api.sandata.dc.gov"
	sandataVisitsPath     = "/altevv/Visits"
)

// SandataAdapter posts visits to the DC Sandata Alt-EVV API. The record id
// is sent as CallExternalID, which the aggregator uses to drop duplicates.
type SandataAdapter struct {
	transport
	baseURL string
	apiKey  string
}

func NewSandataAdapter(baseURL, apiKey string, opts ...Option) *SandataAdapter {
	if baseURL == "" {
		baseURL = DefaultSandataBaseURL
	}
	return &SandataAdapter{
		transport: newTransport(opts),
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
	}
}

func (a *SandataAdapter) Destination() string { return DestinationSandata }

type sandataCall struct {
	CallExternalID string `json:"CallExternalID"`
	CallDateTime   string `json:"CallDateTime"`
	CallAssignment string `json:"CallAssignment"`
	Location       string `json:"Location,omitempty"`
}

type sandataVisit struct {
	Calls []sandataCall `json:"Calls"`
}

func (a *SandataAdapter) Submit(ctx context.Context, s *Submission) error {
	body, err := json.Marshal(buildSandataVisit(s.Visit))
	if err != nil {
		return &apperr.TransportError{Destination: DestinationSandata, Err: fmt.Errorf("marshal visit: %w", err)}
	}

	headers := map[string]string{"x-api-key": a.apiKey}
	if err := a.post(ctx, DestinationSandata, a.baseURL+sandataVisitsPath, headers, body); err != nil {
		return err
	}
	a.logger.Info().
		Str("record", s.Visit.RecordID.String()).
		Str("entry", s.EntryID.String()).
		Msg("sandata visit submitted")
	return nil
}

func buildSandataVisit(v Visit) sandataVisit {
	id := v.RecordID.String()
	return sandataVisit{Calls: []sandataCall{
		{CallExternalID: id, CallDateTime: v.TimeIn.UTC().Format(time.RFC3339), CallAssignment: "In", Location: coordinates(v.CheckIn)},
		{CallExternalID: id, CallDateTime: v.TimeOut.UTC().Format(time.RFC3339), CallAssignment: "Out", Location: coordinates(v.CheckOut)},
	}}
}

func coordinates(s *location.Snapshot) string {
	if s == nil || s.Latitude == nil || s.Longitude == nil {
		return ""
	}
	return fmt.Sprintf("%f,%f", *s.Latitude, *s.Longitude)
}
