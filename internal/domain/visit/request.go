package visit

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/careconnect/evv/internal/domain/location"
	"github.com/careconnect/evv/internal/platform/apperr"
)

const (
	maxServiceType = 128
	maxReasonCode  = 50
	maxExplanation = 1000
	maxComment     = 2000
)

// CreateRequest carries a captured visit. ID is optional; offline devices
// assign one so the replay can be deduplicated.
type CreateRequest struct {
	ID                  *uuid.UUID             `json:"id,omitempty"`
	PatientID           uuid.UUID              `json:"patient_id"`
	CaregiverID         uuid.UUID              `json:"caregiver_id"`
	ServiceType         string                 `json:"service_type"`
	DateOfService       string                 `json:"date_of_service"`
	TimeIn              time.Time              `json:"time_in"`
	TimeOut             time.Time              `json:"time_out"`
	Location            *location.Input        `json:"location,omitempty"`
	CheckIn             *location.Input        `json:"checkin_location,omitempty"`
	CheckOut            *location.Input        `json:"checkout_location,omitempty"`
	StateCode           string                 `json:"state_code"`
	DeviceInfo          map[string]interface{} `json:"device_info,omitempty"`
	ScheduledVisitID    *uuid.UUID             `json:"scheduled_visit_id,omitempty"`
	EORApprovalRequired bool                   `json:"eor_approval_required,omitempty"`
}

// Validate checks the fields that do not need a collaborator. Patient and
// location resolution happen in the service.
func (r *CreateRequest) Validate(jurisdictions JurisdictionSet) error {
	if r.ID != nil && *r.ID == uuid.Nil {
		return apperr.Validation("id", "must not be the nil uuid")
	}
	if r.PatientID == uuid.Nil {
		return apperr.Validation("patient_id", "is required")
	}
	if r.CaregiverID == uuid.Nil {
		return apperr.Validation("caregiver_id", "is required")
	}
	r.ServiceType = strings.TrimSpace(r.ServiceType)
	if err := validateServiceType(r.ServiceType); err != nil {
		return err
	}
	if _, err := parseDate(r.DateOfService); err != nil {
		return err
	}
	if err := validateWindow(r.TimeIn, r.TimeOut); err != nil {
		return err
	}
	r.StateCode = strings.ToUpper(strings.TrimSpace(r.StateCode))
	if err := validateStateCode(r.StateCode, jurisdictions); err != nil {
		return err
	}
	if r.CheckIn == nil && r.Location != nil {
		r.CheckIn = r.Location
	}
	return nil
}

// Overrides lists the fields a correction may change. Nil fields keep the
// original's value.
type Overrides struct {
	ServiceType    *string                `json:"service_type,omitempty"`
	IndividualName *string                `json:"individual_name,omitempty"`
	DateOfService  *string                `json:"date_of_service,omitempty"`
	TimeIn         *time.Time             `json:"time_in,omitempty"`
	TimeOut        *time.Time             `json:"time_out,omitempty"`
	CheckIn        *location.Input        `json:"checkin_location,omitempty"`
	CheckOut       *location.Input        `json:"checkout_location,omitempty"`
	StateCode      *string                `json:"state_code,omitempty"`
	DeviceInfo     map[string]interface{} `json:"device_info,omitempty"`
}

// CorrectionRequest amends an existing record. CorrectedRecordID is set by
// offline devices so a replayed correction is recognised.
type CorrectionRequest struct {
	OriginalRecordID  uuid.UUID  `json:"original_record_id"`
	CorrectedRecordID *uuid.UUID `json:"corrected_record_id,omitempty"`
	ReasonCode        string     `json:"reason_code"`
	Explanation       string     `json:"explanation"`
	Overrides         Overrides  `json:"overrides"`
}

func (r *CorrectionRequest) Validate() error {
	if r.OriginalRecordID == uuid.Nil {
		return apperr.Validation("original_record_id", "is required")
	}
	r.ReasonCode = strings.TrimSpace(r.ReasonCode)
	if r.ReasonCode == "" {
		return apperr.Validation("reason_code", "is required")
	}
	if len(r.ReasonCode) > maxReasonCode {
		return apperr.Validation("reason_code", "must be at most %d characters", maxReasonCode)
	}
	r.Explanation = strings.TrimSpace(r.Explanation)
	if r.Explanation == "" {
		return apperr.Validation("explanation", "is required")
	}
	if len(r.Explanation) > maxExplanation {
		return apperr.Validation("explanation", "must be at most %d characters", maxExplanation)
	}
	return nil
}

// SearchFilter selects records for the search endpoint.
type SearchFilter struct {
	PatientName   string
	ServiceType   string
	CaregiverID   *uuid.UUID
	StartDate     *time.Time
	EndDate       *time.Time
	StateCode     string
	Status        string
	Page          int
	Size          int
	SortBy        string
	SortDirection string
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// sortColumns maps accepted sort keys to columns.
var sortColumns = map[string]string{
	"createdAt":       "created_at",
	"created_at":      "created_at",
	"dateOfService":   "date_of_service",
	"date_of_service": "date_of_service",
	"timeIn":          "time_in",
	"time_in":         "time_in",
	"updatedAt":       "updated_at",
	"updated_at":      "updated_at",
}

var validStatuses = map[string]bool{
	StatusUnderReview: true,
	StatusApproved:    true,
	StatusRejected:    true,
}

// Normalize applies defaults and rejects unknown sort keys and statuses.
func (f *SearchFilter) Normalize() error {
	if f.Page < 0 {
		return apperr.Validation("page", "must not be negative")
	}
	if f.Size <= 0 {
		f.Size = DefaultPageSize
	}
	if f.Size > MaxPageSize {
		f.Size = MaxPageSize
	}
	if maxPage := math.MaxInt32 / f.Size; f.Page > maxPage {
		return apperr.Validation("page", "must be at most %d", maxPage)
	}
	if f.SortBy == "" {
		f.SortBy = "createdAt"
	}
	if _, ok := sortColumns[f.SortBy]; !ok {
		return apperr.Validation("sortBy", "unsupported sort field %q", f.SortBy)
	}
	f.SortDirection = strings.ToUpper(f.SortDirection)
	switch f.SortDirection {
	case "":
		f.SortDirection = "DESC"
	case "ASC", "DESC":
	default:
		return apperr.Validation("sortDirection", "must be ASC or DESC")
	}
	f.Status = strings.ToUpper(f.Status)
	if f.Status != "" && !validStatuses[f.Status] {
		return apperr.Validation("status", "unknown status %q", f.Status)
	}
	f.StateCode = strings.ToUpper(f.StateCode)
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return apperr.Validation("endDate", "must not be before startDate")
	}
	return nil
}

func (f *SearchFilter) sortColumn() string { return sortColumns[f.SortBy] }

func (f *SearchFilter) offset() int { return f.Page * f.Size }

func validateServiceType(s string) error {
	if s == "" {
		return apperr.Validation("service_type", "is required")
	}
	if len(s) > maxServiceType {
		return apperr.Validation("service_type", "must be at most %d characters", maxServiceType)
	}
	return nil
}

func validateWindow(in, out time.Time) error {
	if in.IsZero() {
		return apperr.Validation("time_in", "is required")
	}
	if out.IsZero() {
		return apperr.Validation("time_out", "is required")
	}
	if !out.After(in) {
		return apperr.Validation("time_out", "must be after time_in")
	}
	return nil
}

func validateStateCode(code string, jurisdictions JurisdictionSet) error {
	if code == "" {
		return apperr.Validation("state_code", "is required")
	}
	if !jurisdictions.Supports(code) {
		return apperr.Validation("state_code", "unsupported jurisdiction %q", code)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, apperr.Validation("date_of_service", "is required")
	}
	d, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.Validation("date_of_service", "must be formatted as YYYY-MM-DD")
	}
	return d, nil
}
