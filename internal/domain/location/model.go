// Package location builds the check-in and check-out location snapshots
// stored on a visit record. Once built, a snapshot is opaque to the core.
package location

import (
	"strings"
	"time"
)

const (
	RoleCheckIn  = "CHECK_IN"
	RoleCheckOut = "CHECK_OUT"

	TypeGPS            = "GPS"
	TypePatientAddress = "PATIENT_ADDRESS"
)

// Input is the location as reported by the caregiver's device.
type Input struct {
	Source    string   `json:"source"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	AccuracyM *float64 `json:"accuracy_m,omitempty"`
}

type AddressSnapshot struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type Snapshot struct {
	Role       string           `json:"role"`
	Type       string           `json:"type"`
	Latitude   *float64         `json:"latitude,omitempty"`
	Longitude  *float64         `json:"longitude,omitempty"`
	AccuracyM  *float64         `json:"accuracy_m,omitempty"`
	Address    *AddressSnapshot `json:"address,omitempty"`
	CapturedAt time.Time        `json:"captured_at"`
}

// Clone returns a deep copy of s. It is nil-safe.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Latitude = cloneFloat(s.Latitude)
	cp.Longitude = cloneFloat(s.Longitude)
	cp.AccuracyM = cloneFloat(s.AccuracyM)
	if s.Address != nil {
		addr := *s.Address
		cp.Address = &addr
	}
	return &cp
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// NormalizeSource maps device source values, including the legacy "gps" and
// "manual", to a snapshot type. It returns "" for unknown sources.
func NormalizeSource(source string) string {
	switch strings.ToUpper(strings.TrimSpace(source)) {
	case "GPS":
		return TypeGPS
	case "MANUAL", TypePatientAddress:
		return TypePatientAddress
	default:
		return ""
	}
}
