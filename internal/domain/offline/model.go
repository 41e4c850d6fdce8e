// Package offline holds visit operations captured without connectivity and
// replays them into the record lifecycle once the device syncs.
package offline

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careconnect/evv/internal/domain/visit"
	"github.com/careconnect/evv/internal/platform/apperr"
)

const (
	OpCreate = "CREATE"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

const (
	PriorityNormal = 1
	PriorityHigh   = 2
	PriorityUrgent = 3
)

const (
	SyncPending = "PENDING"
	SyncSyncing = "SYNCING"
	SyncSynced  = "SYNCED"
	SyncFailed  = "FAILED"
)

// Snapshot is the operation as captured on the device. Exactly one field is
// used, depending on the operation type.
type Snapshot struct {
	Create     *visit.CreateRequest     `json:"create,omitempty"`
	Correction *visit.CorrectionRequest `json:"correction,omitempty"`
	Reason     string                   `json:"reason,omitempty"`
}

// Item is one queued offline operation.
type Item struct {
	ID              uuid.UUID  `json:"id"`
	Seq             int64      `json:"seq"`
	Operation       string     `json:"operation_type"`
	RecordID        uuid.UUID  `json:"record_id"`
	CaregiverID     uuid.UUID  `json:"caregiver_id"`
	DeviceID        string     `json:"device_id,omitempty"`
	Priority        int        `json:"priority"`
	SyncStatus      string     `json:"sync_status"`
	SyncAttempts    int        `json:"sync_attempts"`
	LastSyncAttempt *time.Time `json:"last_sync_attempt,omitempty"`
	LastError       *string    `json:"last_error,omitempty"`
	RecordData      Snapshot   `json:"record_data"`
	QueuedAt        time.Time  `json:"queued_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of i.
func (i *Item) Clone() *Item {
	cp := *i
	if i.LastSyncAttempt != nil {
		t := *i.LastSyncAttempt
		cp.LastSyncAttempt = &t
	}
	if i.LastError != nil {
		s := *i.LastError
		cp.LastError = &s
	}
	// Snapshot requests hold pointers; copy through JSON.
	if raw, err := json.Marshal(i.RecordData); err == nil {
		var snap Snapshot
		if json.Unmarshal(raw, &snap) == nil {
			cp.RecordData = snap
		}
	}
	return &cp
}

// OutOfAttempts reports whether the item used up its attempts and is parked
// for manual resolution.
func (i *Item) OutOfAttempts(maxAttempts int) bool {
	return i.SyncStatus == SyncFailed && i.SyncAttempts >= maxAttempts
}

// EnqueueRequest describes an operation to hold until the device syncs.
type EnqueueRequest struct {
	Operation   string    `json:"operation_type"`
	RecordID    uuid.UUID `json:"record_id"`
	CaregiverID uuid.UUID `json:"caregiver_id"`
	DeviceID    string    `json:"device_id"`
	Priority    int       `json:"priority"`
	Snapshot    Snapshot  `json:"record_data"`
}

func (r *EnqueueRequest) Validate() error {
	r.Operation = strings.ToUpper(strings.TrimSpace(r.Operation))
	if r.RecordID == uuid.Nil {
		return apperr.Validation("record_id", "is required")
	}
	if r.CaregiverID == uuid.Nil {
		return apperr.Validation("caregiver_id", "is required")
	}
	if r.Priority == 0 {
		r.Priority = PriorityNormal
	}
	if r.Priority < PriorityNormal || r.Priority > PriorityUrgent {
		return apperr.Validation("priority", "must be between %d and %d", PriorityNormal, PriorityUrgent)
	}

	switch r.Operation {
	case OpCreate:
		if r.Snapshot.Create == nil {
			return apperr.Validation("record_data.create", "is required for %s", OpCreate)
		}
		id := r.RecordID
		r.Snapshot.Create.ID = &id
	case OpUpdate:
		c := r.Snapshot.Correction
		if c == nil {
			return apperr.Validation("record_data.correction", "is required for %s", OpUpdate)
		}
		if c.CorrectedRecordID == nil || *c.CorrectedRecordID == uuid.Nil {
			return apperr.Validation("record_data.correction.corrected_record_id", "is required for offline corrections")
		}
		if c.OriginalRecordID == uuid.Nil {
			c.OriginalRecordID = r.RecordID
		}
		if c.OriginalRecordID != r.RecordID {
			return apperr.Validation("record_data.correction.original_record_id", "must match record_id")
		}
	case OpDelete:
	default:
		return apperr.Validation("operation_type", "must be one of %s, %s, %s", OpCreate, OpUpdate, OpDelete)
	}
	return nil
}

// ParsePriority accepts "normal", "high", "urgent" or their numeric levels.
// An empty value is normal.
func ParsePriority(s string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < PriorityNormal || n > PriorityUrgent {
		return 0, apperr.Validation("priority", "must be normal, high or urgent")
	}
	return n, nil
}

type StatusFilter struct {
	CaregiverID *uuid.UUID
	DeviceID    string
}

// ItemStatus is an item as reported by the status query. Problem carries the
// exhaustion description for items that need manual resolution.
type ItemStatus struct {
	*Item
	Exhausted bool   `json:"exhausted"`
	Problem   string `json:"problem,omitempty"`
}

type QueueStatus struct {
	Counts map[string]int `json:"counts"`
	Items  []ItemStatus   `json:"items"`
}
