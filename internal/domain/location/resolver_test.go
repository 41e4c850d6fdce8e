package location

import (
	"errors"
	"testing"

	"github.com/careconnect/evv/internal/domain/patient"
	"github.com/careconnect/evv/internal/platform/apperr"
)

func ptr(f float64) *float64 { return &f }

func TestResolve_GPS(t *testing.T) {
	snap, err := NewResolver().Resolve(RoleCheckIn, &Input{Source: "gps", Lat: ptr(38.9072), Lng: ptr(-77.0369), AccuracyM: ptr(12.5)}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Type != TypeGPS || snap.Role != RoleCheckIn {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if *snap.Latitude != 38.9072 || *snap.AccuracyM != 12.5 {
		t.Errorf("coordinates not copied: %+v", snap)
	}
}

func TestResolve_GPSValidation(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"missing coords", Input{Source: "GPS"}},
		{"latitude out of range", Input{Source: "GPS", Lat: ptr(91), Lng: ptr(0)}},
		{"longitude out of range", Input{Source: "GPS", Lat: ptr(0), Lng: ptr(-181)}},
		{"negative accuracy", Input{Source: "GPS", Lat: ptr(0), Lng: ptr(0), AccuracyM: ptr(-1)}},
		{"unknown source", Input{Source: "wifi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			_, err := NewResolver().Resolve(RoleCheckOut, &in, nil)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestResolve_PatientAddress(t *testing.T) {
	addr := &patient.Address{Line1: "12 Elm St", City: "Baltimore", State: "MD", Zip: "21201"}
	snap, err := NewResolver().Resolve(RoleCheckIn, &Input{Source: "manual"}, addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Type != TypePatientAddress {
		t.Errorf("expected PATIENT_ADDRESS, got %s", snap.Type)
	}
	if snap.Address.PostalCode != "21201" || snap.Address.Country != "US" {
		t.Errorf("unexpected address snapshot %+v", snap.Address)
	}
	if snap.Latitude != nil {
		t.Error("expected no coordinates on address snapshot")
	}
}

func TestResolve_PatientAddressMissing(t *testing.T) {
	_, err := NewResolver().Resolve(RoleCheckIn, &Input{Source: TypePatientAddress}, nil)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSnapshotClone(t *testing.T) {
	var nilSnap *Snapshot
	if nilSnap.Clone() != nil {
		t.Fatal("expected nil clone of nil snapshot")
	}

	orig := &Snapshot{Role: RoleCheckIn, Type: TypeGPS, Latitude: ptr(1), Longitude: ptr(2), Address: &AddressSnapshot{City: "Baltimore"}}
	cp := orig.Clone()
	*cp.Latitude = 9
	cp.Address.City = "Annapolis"

	if *orig.Latitude != 1 || orig.Address.City != "Baltimore" {
		t.Errorf("clone shares state with original: %+v", orig)
	}
}
