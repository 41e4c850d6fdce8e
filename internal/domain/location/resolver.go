package location

import (
	"time"

	"github.com/careconnect/evv/internal/domain/patient"
	"github.com/careconnect/evv/internal/platform/apperr"
)

type Resolver struct {
	now func() time.Time
}

func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// Resolve builds the snapshot for role. GPS inputs need valid coordinates;
// PATIENT_ADDRESS copies the patient's address on file.
func (r *Resolver) Resolve(role string, in *Input, addr *patient.Address) (*Snapshot, error) {
	field := "checkinLocation"
	if role == RoleCheckOut {
		field = "checkoutLocation"
	}

	typ := NormalizeSource(in.Source)
	snap := &Snapshot{Role: role, Type: typ, CapturedAt: r.now().UTC()}

	switch typ {
	case TypeGPS:
		if in.Lat == nil || in.Lng == nil {
			return nil, apperr.Validation(field, "GPS location requires latitude and longitude")
		}
		if *in.Lat < -90 || *in.Lat > 90 {
			return nil, apperr.Validation(field, "latitude must be between -90 and 90")
		}
		if *in.Lng < -180 || *in.Lng > 180 {
			return nil, apperr.Validation(field, "longitude must be between -180 and 180")
		}
		if in.AccuracyM != nil && *in.AccuracyM < 0 {
			return nil, apperr.Validation(field, "accuracy must be positive")
		}
		snap.Latitude, snap.Longitude, snap.AccuracyM = in.Lat, in.Lng, in.AccuracyM
	case TypePatientAddress:
		if addr == nil {
			return nil, apperr.Validation(field, "patient does not have an address on file")
		}
		snap.Address = &AddressSnapshot{
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.Zip,
			Country:    "US",
		}
	default:
		return nil, apperr.Validation(field, "unknown location source %q", in.Source)
	}
	return snap, nil
}
