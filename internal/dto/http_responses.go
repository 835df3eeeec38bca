package dto

import (
	"time"

	"github.com/wb-go/wbf/ginext"

	"campusevents/internal/model"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	EventNotFound         = "EVENT_NOT_FOUND"
	RegistrationNotFound  = "REGISTRATION_NOT_FOUND"
	TicketNotFound        = "TICKET_NOT_FOUND"
	RegistrationDuplicate = "REGISTRATION_DUPLICATE"
	RegistrationClosed    = "REGISTRATION_CLOSED"
	DeadlinePassed        = "DEADLINE_PASSED"
	LimitReached          = "LIMIT_REACHED"
	OutOfStock            = "OUT_OF_STOCK"
	PurchaseLimitReached  = "PURCHASE_LIMIT_REACHED"
	WrongEventKind        = "WRONG_EVENT_KIND"
	AlreadyCancelled      = "ALREADY_CANCELLED"
	AlreadyAttended       = "ALREADY_ATTENDED"
	RegistrationCancelled = "REGISTRATION_CANCELLED"
	TicketEventMismatch   = "TICKET_EVENT_MISMATCH"
	NotEventOwner         = "NOT_EVENT_OWNER"
	EventNotDraft         = "EVENT_NOT_DRAFT"
)

type RegisterNormalRequest struct {
	EventID       string                `json:"event_id" validate:"required"`
	FormResponses []model.FieldResponse `json:"form_responses"`
}

type PurchaseMerchRequest struct {
	EventID string `json:"event_id" validate:"required"`
}

// ScanRequest carries either a structured QR payload or a bare ticket number
// typed manually; at least one of the two must be present.
type ScanRequest struct {
	EventID      string `json:"event_id,omitempty"`
	TicketNumber string `json:"ticket_number,omitempty"`
	QRData       string `json:"qr_data,omitempty"`
}

type ManualOverrideRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

type CreateEventRequest struct {
	Name                 string              `json:"name" validate:"required,min=3,max=255"`
	Kind                 string              `json:"kind" validate:"required,oneof=NORMAL MERCH"`
	RegistrationDeadline *time.Time          `json:"registration_deadline,omitempty"`
	RegistrationLimit    *int                `json:"registration_limit,omitempty"`
	Stock                *int                `json:"stock,omitempty"`
	PurchaseLimit        *int                `json:"purchase_limit,omitempty"`
	RegistrationFee      float64             `json:"registration_fee" validate:"gte=0"`
	CustomFieldSchema    []model.CustomField `json:"custom_field_schema,omitempty"`
}

type UpdateEventStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PUBLISHED ONGOING CLOSED CANCELLED"`
}

type RegistrationResponse struct {
	ID             string     `json:"id"`
	EventID        string     `json:"event_id"`
	ParticipantID  string     `json:"participant_id"`
	Status         string     `json:"status"`
	TicketNumber   string     `json:"ticket_number"`
	QRPayload      string     `json:"qr_payload"`
	AttendanceTime *time.Time `json:"attendance_time,omitempty"`
	RegisteredAt   time.Time  `json:"registered_at"`
}

// ParticipantView is the display-safe projection exposed in attendance lists.
type ParticipantView struct {
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	TicketNumber   string     `json:"ticket_number"`
	AttendanceTime *time.Time `json:"attendance_time,omitempty"`
}

type ScanResultResponse struct {
	AttendanceTime time.Time       `json:"attendance_time"`
	Participant    ParticipantView `json:"participant"`
}

// DuplicateScanResponse is the body of the 409 returned for a repeated scan.
// It is a first-class outcome: the UI shows who was scanned and when, not a
// bare failure.
type DuplicateScanResponse struct {
	AlreadyAttended bool            `json:"already_attended"`
	AttendanceTime  *time.Time      `json:"attendance_time,omitempty"`
	Participant     ParticipantView `json:"participant"`
}

type AttendanceStatsResponse struct {
	Total               int               `json:"total"`
	Attended            int               `json:"attended"`
	NotAttended         int               `json:"not_attended"`
	ScannedParticipants []ParticipantView `json:"scanned_participants"`
	PendingParticipants []ParticipantView `json:"pending_participants"`
}

const (
	NotifyTicketIssued          = "TICKET_ISSUED"
	NotifyRegistrationCancelled = "REGISTRATION_CANCELLED"
)

// NotificationMessage is the payload published to the email pipeline.
type NotificationMessage struct {
	Kind           string `json:"kind"`
	RegistrationID string `json:"registration_id"`
	EventID        string `json:"event_id"`
	EventName      string `json:"event_name"`
	ToEmail        string `json:"to_email"`
	TicketNumber   string `json:"ticket_number,omitempty"`
	QRPayload      string `json:"qr_payload,omitempty"`
}

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func BadResponseError(c *ginext.Context, code, desc string) {
	c.JSON(400, Response{
		Status: "error",
		Error:  &Error{Code: code, Desc: desc},
	})
}

func ForbiddenError(c *ginext.Context, desc string) {
	c.JSON(403, Response{
		Status: "error",
		Error:  &Error{Code: NotEventOwner, Desc: desc},
	})
}

func NotFoundError(c *ginext.Context, code, desc string) {
	c.JSON(404, Response{
		Status: "error",
		Error:  &Error{Code: code, Desc: desc},
	})
}

func ConflictError(c *ginext.Context, code, desc string) {
	c.JSON(409, Response{
		Status: "error",
		Error:  &Error{Code: code, Desc: desc},
	})
}

// ConflictWithData reports a business-rule conflict that still carries a
// payload, e.g. the duplicate-scan outcome.
func ConflictWithData(c *ginext.Context, code, desc string, data any) {
	c.JSON(409, Response{
		Status: "error",
		Error:  &Error{Code: code, Desc: desc},
		Data:   data,
	})
}

func InternalServerError(c *ginext.Context) {
	c.JSON(500, Response{
		Status: "error",
		Error:  &Error{Code: ServiceUnavailable, Desc: InternalError},
	})
}

func EventNotFoundError(c *ginext.Context) {
	NotFoundError(c, EventNotFound, "Event not found")
}

func RegistrationNotFoundError(c *ginext.Context) {
	NotFoundError(c, RegistrationNotFound, "Registration not found")
}

func InvalidTicketError(c *ginext.Context) {
	NotFoundError(c, TicketNotFound, "Invalid ticket")
}

func RegistrationDuplicateError(c *ginext.Context) {
	ConflictError(c, RegistrationDuplicate, "You have already registered for this event")
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(200, Response{Status: "ok", Data: data})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(201, Response{Status: "ok", Data: data})
}
