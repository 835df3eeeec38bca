package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"campusevents/internal/model"
)

var (
	ErrEventNotFound         = errors.New("event not found")
	ErrEventNotDraft         = errors.New("event is not a draft")
	ErrWrongEventKind        = errors.New("wrong event kind")
	ErrEventNotOpen          = errors.New("event is not open for registration")
	ErrDeadlinePassed        = errors.New("registration deadline passed")
	ErrDuplicateRegistration = errors.New("duplicate registration")
	ErrEventFull             = errors.New("registration limit reached")
	ErrOutOfStock            = errors.New("out of stock")
	ErrPurchaseLimitReached  = errors.New("purchase limit reached")
	ErrRegistrationNotFound  = errors.New("registration not found")
	ErrAlreadyCancelled      = errors.New("registration already cancelled")
	ErrParticipantNotFound   = errors.New("participant not found")
)

// AttendeeRow is the display-safe projection used by attendance stats and the
// CSV export. No credentials or internal fields leave the repository.
type AttendeeRow struct {
	Name           string
	Email          string
	TicketNumber   string
	AttendanceTime *time.Time
}

type Repository interface {
	CreateEvent(ctx context.Context, e *model.Event) error
	GetEventByID(ctx context.Context, id string) (*model.Event, error)
	GetEventsByOrganizer(ctx context.Context, organizerID string) ([]model.Event, error)
	UpdateEventStatus(ctx context.Context, eventID, status string) error
	DeleteDraftEvent(ctx context.Context, eventID string) error

	RegisterTx(ctx context.Context, reg *model.Registration) error
	PurchaseTx(ctx context.Context, reg *model.Registration) error
	CancelRegistrationTx(ctx context.Context, participantID, registrationID string) error
	GetRegistrationByID(ctx context.Context, id string) (*model.Registration, error)
	GetRegistrationByTicket(ctx context.Context, ticketNumber string) (*model.Registration, error)
	CountActiveRegistrations(ctx context.Context, eventID string) (int, error)

	MarkAttendance(ctx context.Context, registrationID, organizerID string, at time.Time) (bool, error)
	FillAttendanceIfUnset(ctx context.Context, registrationID, organizerID string, at time.Time) (*model.Registration, error)
	InsertAuditEntry(ctx context.Context, entry *model.AttendanceAudit) error

	GetParticipant(ctx context.Context, id string) (*model.Participant, error)
	AttendanceLists(ctx context.Context, eventID string) (scanned, pending []AttendeeRow, err error)

	MigrateUp(migrationsDir string) error
	MigrateDown(migrationsDir string) error
}

type repository struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{db: db, log: log}, nil
}

func (r *repository) MigrateUp(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations applied successfully from %s", migrationsDir)
	return nil
}

func (r *repository) MigrateDown(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.down.sql"))
	if err != nil {
		return fmt.Errorf("failed to read rollback files: %w", err)
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read rollback file %s: %w", file, err)
		}

		if _, err := r.db.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", file, err)
		}
	}

	r.log.Info().Msgf("Migrations rolled back successfully from %s", migrationsDir)
	return nil
}

func (r *repository) CreateEvent(ctx context.Context, e *model.Event) error {
	schemaJSON, err := json.Marshal(e.CustomFieldSchema)
	if err != nil {
		return fmt.Errorf("failed to encode custom field schema: %w", err)
	}

	query := `
		INSERT INTO events (id, organizer_id, name, kind, status, registration_deadline,
		                    registration_limit, stock, purchase_limit, registration_fee,
		                    custom_field_schema, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
	`
	if _, err := r.db.ExecContext(ctx, query,
		e.ID, e.OrganizerID, e.Name, e.Kind, e.Status, e.RegistrationDeadline,
		e.RegistrationLimit, e.Stock, e.PurchaseLimit, e.RegistrationFee, schemaJSON,
	); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

const eventColumns = `
	id, organizer_id, name, kind, status, registration_deadline,
	registration_limit, stock, purchase_limit, registration_fee,
	custom_field_schema, created_at, updated_at
`

func scanEvent(row interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	var schemaJSON []byte
	if err := row.Scan(
		&e.ID, &e.OrganizerID, &e.Name, &e.Kind, &e.Status, &e.RegistrationDeadline,
		&e.RegistrationLimit, &e.Stock, &e.PurchaseLimit, &e.RegistrationFee,
		&schemaJSON, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(schemaJSON) > 0 {
		if err := json.Unmarshal(schemaJSON, &e.CustomFieldSchema); err != nil {
			return nil, fmt.Errorf("failed to decode custom field schema: %w", err)
		}
	}
	return &e, nil
}

func (r *repository) GetEventByID(ctx context.Context, id string) (*model.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		return nil, ErrEventNotFound
	}
	return e, nil
}

func (r *repository) GetEventsByOrganizer(ctx context.Context, organizerID string) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE organizer_id = $1 ORDER BY created_at DESC`, organizerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (r *repository) UpdateEventStatus(ctx context.Context, eventID, status string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE events SET status = $1, updated_at = NOW() WHERE id = $2`, status, eventID)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEventNotFound
	}
	return nil
}

// DeleteDraftEvent removes an event only while it is still a draft. Published
// events may accumulate registrations and are never physically deleted.
func (r *repository) DeleteDraftEvent(ctx context.Context, eventID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM events WHERE id = $1 AND status = $2`, eventID, model.EventStatusDraft)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := r.GetEventByID(ctx, eventID); err != nil {
		return ErrEventNotFound
	}
	return ErrEventNotDraft
}

// RegisterTx admits a participant into a NORMAL event. The event row is
// locked for the duration of the transaction so the duplicate check and the
// capacity count cannot race with a concurrent admit; a partial unique index
// on (event_id, participant_id) over non-cancelled rows backstops the
// duplicate check at the constraint level.
func (r *repository) RegisterTx(ctx context.Context, reg *model.Registration) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var (
		kind, status string
		deadline     *time.Time
		limit        *int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT kind, status, registration_deadline, registration_limit
		FROM events
		WHERE id = $1
		FOR UPDATE
	`, reg.EventID).Scan(&kind, &status, &deadline, &limit)
	if err != nil {
		_ = tx.Rollback()
		return ErrEventNotFound
	}

	// Precondition order matters: first failure wins, no side effects.
	if kind != model.EventKindNormal {
		_ = tx.Rollback()
		return ErrWrongEventKind
	}
	if status != model.EventStatusPublished {
		_ = tx.Rollback()
		return ErrEventNotOpen
	}
	if deadline != nil && time.Now().After(*deadline) {
		_ = tx.Rollback()
		return ErrDeadlinePassed
	}

	var existing int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM registrations
		WHERE event_id = $1 AND participant_id = $2 AND status <> $3
	`, reg.EventID, reg.ParticipantID, model.RegistrationStatusCancelled).Scan(&existing)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to check duplicate registration: %w", err)
	}
	if existing > 0 {
		_ = tx.Rollback()
		return ErrDuplicateRegistration
	}

	if limit != nil {
		var count int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*)
			FROM registrations
			WHERE event_id = $1 AND status <> $2
		`, reg.EventID, model.RegistrationStatusCancelled).Scan(&count)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to count registrations: %w", err)
		}
		if count >= *limit {
			_ = tx.Rollback()
			return ErrEventFull
		}
	}

	if err := insertRegistration(ctx, tx, reg); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PurchaseTx admits a merch purchase. The stock decrement is a conditional
// update guarded by stock > 0 so two concurrent purchases cannot both take
// the last unit.
func (r *repository) PurchaseTx(ctx context.Context, reg *model.Registration) error {
	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	var (
		kind, status  string
		stock         *int
		purchaseLimit *int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT kind, status, stock, purchase_limit
		FROM events
		WHERE id = $1
		FOR UPDATE
	`, reg.EventID).Scan(&kind, &status, &stock, &purchaseLimit)
	if err != nil {
		_ = tx.Rollback()
		return ErrEventNotFound
	}

	if kind != model.EventKindMerch {
		_ = tx.Rollback()
		return ErrWrongEventKind
	}
	if status != model.EventStatusPublished {
		_ = tx.Rollback()
		return ErrEventNotOpen
	}
	if stock == nil || *stock <= 0 {
		_ = tx.Rollback()
		return ErrOutOfStock
	}

	if purchaseLimit != nil {
		var purchased int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*)
			FROM registrations
			WHERE event_id = $1 AND participant_id = $2 AND status <> $3
		`, reg.EventID, reg.ParticipantID, model.RegistrationStatusCancelled).Scan(&purchased)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to count purchases: %w", err)
		}
		if purchased >= *purchaseLimit {
			_ = tx.Rollback()
			return ErrPurchaseLimitReached
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE events
		SET stock = stock - 1, updated_at = NOW()
		WHERE id = $1 AND stock > 0
	`, reg.EventID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return ErrOutOfStock
	}

	if err := insertRegistration(ctx, tx, reg); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertRegistration(ctx context.Context, tx *sql.Tx, reg *model.Registration) error {
	responsesJSON, err := json.Marshal(reg.CustomFieldResponses)
	if err != nil {
		return fmt.Errorf("failed to encode form responses: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO registrations (id, event_id, participant_id, status, ticket_number,
		                           qr_payload, attendance_marked, custom_field_responses,
		                           registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8, NOW())
	`, reg.ID, reg.EventID, reg.ParticipantID, reg.Status, reg.TicketNumber,
		reg.QRPayload, responsesJSON, reg.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to create registration: %w", err)
	}
	return nil
}

// CancelRegistrationTx marks a registration CANCELLED. CANCELLED is terminal;
// the conditional update distinguishes not-found from already-cancelled after
// the fact.
func (r *repository) CancelRegistrationTx(ctx context.Context, participantID, registrationID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND participant_id = $3 AND status <> $1
	`, model.RegistrationStatusCancelled, registrationID, participantID)
	if err != nil {
		return fmt.Errorf("failed to cancel registration: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	reg, err := r.GetRegistrationByID(ctx, registrationID)
	if err != nil || reg.ParticipantID != participantID {
		return ErrRegistrationNotFound
	}
	return ErrAlreadyCancelled
}

const registrationColumns = `
	id, event_id, participant_id, status, ticket_number, qr_payload,
	attendance_marked, attendance_time, attendance_marked_by,
	custom_field_responses, registered_at, updated_at
`

func scanRegistration(row interface{ Scan(...any) error }) (*model.Registration, error) {
	var reg model.Registration
	var markedBy sql.NullString
	var responsesJSON []byte
	if err := row.Scan(
		&reg.ID, &reg.EventID, &reg.ParticipantID, &reg.Status, &reg.TicketNumber,
		&reg.QRPayload, &reg.AttendanceMarked, &reg.AttendanceTime, &markedBy,
		&responsesJSON, &reg.RegisteredAt, &reg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	reg.AttendanceMarkedBy = markedBy.String
	if len(responsesJSON) > 0 {
		if err := json.Unmarshal(responsesJSON, &reg.CustomFieldResponses); err != nil {
			return nil, fmt.Errorf("failed to decode form responses: %w", err)
		}
	}
	return &reg, nil
}

func (r *repository) GetRegistrationByID(ctx context.Context, id string) (*model.Registration, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id)
	reg, err := scanRegistration(row)
	if err != nil {
		return nil, ErrRegistrationNotFound
	}
	return reg, nil
}

func (r *repository) GetRegistrationByTicket(ctx context.Context, ticketNumber string) (*model.Registration, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE ticket_number = $1`, ticketNumber)
	reg, err := scanRegistration(row)
	if err != nil {
		return nil, ErrRegistrationNotFound
	}
	return reg, nil
}

func (r *repository) CountActiveRegistrations(ctx context.Context, eventID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM registrations
		WHERE event_id = $1 AND status <> $2
	`, eventID, model.RegistrationStatusCancelled).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}
	return count, nil
}

// MarkAttendance flips a registration to ATTENDED only if it has not been
// marked yet. The duplicate-vs-success branch is decided by whether this
// update applied, not by a prior read.
func (r *repository) MarkAttendance(ctx context.Context, registrationID, organizerID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET attendance_marked = TRUE,
		    attendance_time = $1,
		    attendance_marked_by = $2,
		    status = $3,
		    updated_at = NOW()
		WHERE id = $4
		  AND attendance_marked = FALSE
		  AND attendance_time IS NULL
		  AND status = $5
	`, at, organizerID, model.RegistrationStatusAttended,
		registrationID, model.RegistrationStatusRegistered)
	if err != nil {
		return false, fmt.Errorf("failed to mark attendance: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FillAttendanceIfUnset backs the manual override path: it always marks the
// registration attended but never overwrites an existing attendance time or
// marker. Returns the row as it stands after the write.
func (r *repository) FillAttendanceIfUnset(ctx context.Context, registrationID, organizerID string, at time.Time) (*model.Registration, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE registrations
		SET attendance_marked = TRUE,
		    attendance_time = COALESCE(attendance_time, $1),
		    attendance_marked_by = COALESCE(NULLIF(attendance_marked_by, ''), $2),
		    status = $3,
		    updated_at = NOW()
		WHERE id = $4 AND status <> $5
	`, at, organizerID, model.RegistrationStatusAttended,
		registrationID, model.RegistrationStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to override attendance: %w", err)
	}
	return r.GetRegistrationByID(ctx, registrationID)
}

func (r *repository) InsertAuditEntry(ctx context.Context, entry *model.AttendanceAudit) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO attendance_audit (id, event_id, registration_id, performed_by, action, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, entry.ID, entry.EventID, entry.RegistrationID, entry.PerformedBy, entry.Action, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (r *repository) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	var p model.Participant
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email FROM participants WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Email)
	if err != nil {
		return nil, ErrParticipantNotFound
	}
	return &p, nil
}

// AttendanceLists returns display-safe projections of attended participants
// (most recent scan first) and pending ones (registration order).
func (r *repository) AttendanceLists(ctx context.Context, eventID string) ([]AttendeeRow, []AttendeeRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(p.name, ''), COALESCE(p.email, ''), reg.ticket_number, reg.attendance_time, reg.attendance_marked
		FROM registrations reg
		LEFT JOIN participants p ON p.id = reg.participant_id
		WHERE reg.event_id = $1 AND reg.status <> $2
		ORDER BY reg.attendance_time DESC NULLS LAST, reg.registered_at ASC
	`, eventID, model.RegistrationStatusCancelled)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query attendance lists: %w", err)
	}
	defer rows.Close()

	var scanned, pending []AttendeeRow
	for rows.Next() {
		var row AttendeeRow
		var marked bool
		if err := rows.Scan(&row.Name, &row.Email, &row.TicketNumber, &row.AttendanceTime, &marked); err != nil {
			return nil, nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		if marked || row.AttendanceTime != nil {
			scanned = append(scanned, row)
		} else {
			pending = append(pending, row)
		}
	}
	return scanned, pending, rows.Err()
}
