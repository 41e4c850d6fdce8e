package integration

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// MarylandInfoAdapter records Maryland visits for information only. Nothing
// leaves the process.
type MarylandInfoAdapter struct {
	logger zerolog.Logger
}

func NewMarylandInfoAdapter(logger zerolog.Logger) *MarylandInfoAdapter {
	return &MarylandInfoAdapter{logger: logger}
}

func (a *MarylandInfoAdapter) Destination() string { return DestinationMaryland }

func (a *MarylandInfoAdapter) Submit(_ context.Context, s *Submission) error {
	a.logger.Info().
		Str("record", s.Visit.RecordID.String()).
		Str("entry", s.EntryID.String()).
		Str("date_of_service", s.Visit.DateOfService).
		Dur("duration", s.Visit.TimeOut.Sub(s.Visit.TimeIn).Round(time.Minute)).
		Msg("maryland visit recorded (informational)")
	return nil
}
