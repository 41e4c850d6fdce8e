package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/careconnect/evv/internal/platform/apperr"
)

const assertionTTL = 5 * time.Minute

type VirginiaConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
}

// VirginiaMCOAdapter delivers visits to the Virginia MCO vendor. Each call
// carries a short-lived client assertion and an Idempotency-Key set to the
// record id. Without an endpoint it only logs the submission.
type VirginiaMCOAdapter struct {
	transport
	cfg VirginiaConfig
}

func NewVirginiaMCOAdapter(cfg VirginiaConfig, opts ...Option) *VirginiaMCOAdapter {
	return &VirginiaMCOAdapter{transport: newTransport(opts), cfg: cfg}
}

func (a *VirginiaMCOAdapter) Destination() string { return DestinationVirginia }

func (a *VirginiaMCOAdapter) Submit(ctx context.Context, s *Submission) error {
	if a.cfg.Endpoint == "" {
		a.logger.Info().
			Str("record", s.Visit.RecordID.String()).
			Str("entry", s.EntryID.String()).
			Msg("virginia mco endpoint not configured, submission logged only")
		return nil
	}

	assertion, err := a.clientAssertion()
	if err != nil {
		return &apperr.TransportError{Destination: DestinationVirginia, Err: fmt.Errorf("sign client assertion: %w", err)}
	}
	body, err := json.Marshal(s.Visit)
	if err != nil {
		return &apperr.TransportError{Destination: DestinationVirginia, Err: fmt.Errorf("marshal visit: %w", err)}
	}

	headers := map[string]string{
		"Authorization":   "Bearer " + assertion,
		"Idempotency-Key": s.Visit.RecordID.String(),
	}
	if err := a.post(ctx, DestinationVirginia, a.cfg.Endpoint, headers, body); err != nil {
		return err
	}
	a.logger.Info().
		Str("record", s.Visit.RecordID.String()).
		Str("entry", s.EntryID.String()).
		Msg("virginia mco visit submitted")
	return nil
}

func (a *VirginiaMCOAdapter) clientAssertion() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.cfg.ClientID,
		Subject:   a.cfg.ClientID,
		Audience:  jwt.ClaimStrings{a.cfg.Endpoint},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.ClientSecret))
}
