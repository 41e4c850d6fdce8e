package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types recorded against a visit record.
const (
	EventCreated            = "CREATED"
	EventApproved           = "APPROVED"
	EventRejected           = "REJECTED"
	EventEORApproved        = "EOR_APPROVED"
	EventOfflineCreated     = "OFFLINE_CREATED"
	EventOfflineSynced      = "OFFLINE_SYNCED"
	EventOfflineSyncFailed  = "OFFLINE_SYNC_FAILED"
	EventCorrected          = "CORRECTED"
	EventSuperseded         = "SUPERSEDED"
	EventCorrectionApproved = "CORRECTION_APPROVED"
	EventCorrectionRejected = "CORRECTION_REJECTED"
	EventSubmissionQueued   = "SUBMISSION_QUEUED"
	EventSubmissionSent     = "SUBMISSION_SENT"
	EventSubmissionFailed   = "SUBMISSION_FAILED"
)

// Event is an immutable forensic fact about a visit record. Hash chains each
// event to the previous event of the same record.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	RecordID   uuid.UUID              `json:"record_id"`
	ActorID    uuid.UUID              `json:"actor_id"`
	EventType  string                 `json:"event_type"`
	DeviceInfo map[string]interface{} `json:"device_info,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	PrevHash   string                 `json:"prev_hash"`
	Hash       string                 `json:"hash"`
}

type hashedContent struct {
	ID         string                 `json:"id"`
	RecordID   string                 `json:"record_id"`
	ActorID    string                 `json:"actor_id"`
	EventType  string                 `json:"event_type"`
	DeviceInfo map[string]interface{} `json:"device_info"`
	Details    map[string]interface{} `json:"details"`
	OccurredAt string                 `json:"occurred_at"`
}

// ComputeHash returns hex(sha256(prev || canonical(e))). Map keys are
// marshalled in sorted order, so the encoding is stable across a JSONB round
// trip.
func ComputeHash(prev string, e *Event) string {
	content, _ := json.Marshal(hashedContent{
		ID:         e.ID.String(),
		RecordID:   e.RecordID.String(),
		ActorID:    e.ActorID.String(),
		EventType:  e.EventType,
		DeviceInfo: e.DeviceInfo,
		Details:    e.Details,
		OccurredAt: e.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// Verification is the outcome of recomputing a record's chain.
type Verification struct {
	RecordID uuid.UUID  `json:"record_id"`
	Events   int        `json:"events"`
	Valid    bool       `json:"valid"`
	BrokenAt *uuid.UUID `json:"broken_at,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// VerifyChain walks events in append order and reports the first event whose
// link or digest does not match.
func VerifyChain(recordID uuid.UUID, events []*Event) *Verification {
	v := &Verification{RecordID: recordID, Events: len(events), Valid: true}
	prev := ""
	for _, e := range events {
		switch {
		case e.PrevHash != prev:
			v.Valid, v.Reason = false, "previous hash mismatch"
		case ComputeHash(prev, e) != e.Hash:
			v.Valid, v.Reason = false, "content hash mismatch"
		}
		if !v.Valid {
			id := e.ID
			v.BrokenAt = &id
			return v
		}
		prev = e.Hash
	}
	return v
}
