package model

import "time"

const (
	EventKindNormal = "NORMAL"
	EventKindMerch  = "MERCH"

	EventStatusDraft     = "DRAFT"
	EventStatusPublished = "PUBLISHED"
	EventStatusOngoing   = "ONGOING"
	EventStatusClosed    = "CLOSED"
	EventStatusCancelled = "CANCELLED"

	RegistrationStatusRegistered = "REGISTERED"
	RegistrationStatusAttended   = "ATTENDED"
	RegistrationStatusCancelled  = "CANCELLED"

	AuditActionScanSuccess    = "SCAN_SUCCESS"
	AuditActionScanDuplicate  = "SCAN_DUPLICATE"
	AuditActionManualOverride = "MANUAL_OVERRIDE"
)

// CustomField describes one entry of an event's registration form schema.
// The schema is immutable once the event has a non-cancelled registration.
type CustomField struct {
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

type FieldResponse struct {
	Label string `json:"label"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

type Event struct {
	ID                   string        `db:"id" json:"id"`
	OrganizerID          string        `db:"organizer_id" json:"organizer_id"`
	Name                 string        `db:"name" json:"name"`
	Kind                 string        `db:"kind" json:"kind"`
	Status               string        `db:"status" json:"status"`
	RegistrationDeadline *time.Time    `db:"registration_deadline" json:"registration_deadline,omitempty"`
	RegistrationLimit    *int          `db:"registration_limit" json:"registration_limit,omitempty"`
	Stock                *int          `db:"stock" json:"stock,omitempty"`
	PurchaseLimit        *int          `db:"purchase_limit" json:"purchase_limit,omitempty"`
	RegistrationFee      float64       `db:"registration_fee" json:"registration_fee"`
	CustomFieldSchema    []CustomField `db:"custom_field_schema" json:"custom_field_schema,omitempty"`
	CreatedAt            time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time     `db:"updated_at" json:"updated_at"`
}

type Registration struct {
	ID                   string          `db:"id" json:"id"`
	EventID              string          `db:"event_id" json:"event_id"`
	ParticipantID        string          `db:"participant_id" json:"participant_id"`
	Status               string          `db:"status" json:"status"`
	TicketNumber         string          `db:"ticket_number" json:"ticket_number"`
	QRPayload            string          `db:"qr_payload" json:"qr_payload"`
	AttendanceMarked     bool            `db:"attendance_marked" json:"attendance_marked"`
	AttendanceTime       *time.Time      `db:"attendance_time" json:"attendance_time,omitempty"`
	AttendanceMarkedBy   string          `db:"attendance_marked_by" json:"attendance_marked_by,omitempty"`
	CustomFieldResponses []FieldResponse `db:"custom_field_responses" json:"custom_field_responses,omitempty"`
	RegisteredAt         time.Time       `db:"registered_at" json:"registered_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// Attended reports whether a registration has already been marked, regardless
// of which write path set it: the flag, the status and the timestamp are
// treated as equivalent signals.
func (r *Registration) Attended() bool {
	return r.AttendanceMarked || r.Status == RegistrationStatusAttended || r.AttendanceTime != nil
}

// AttendanceAudit is an append-only record of an attendance-affecting action.
type AttendanceAudit struct {
	ID             string            `db:"id" json:"id"`
	EventID        string            `db:"event_id" json:"event_id"`
	RegistrationID string            `db:"registration_id" json:"registration_id"`
	PerformedBy    string            `db:"performed_by" json:"performed_by"`
	Action         string            `db:"action" json:"action"`
	Metadata       map[string]string `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
}

// Participant is the read model supplied by the surrounding identity layer.
// Only display-safe fields are carried here.
type Participant struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
}
