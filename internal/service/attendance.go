package service

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"

	"campusevents/internal/dto"
	"campusevents/internal/model"
	"campusevents/internal/repo"
	"campusevents/internal/ticket"
	"campusevents/monitoring"
	"campusevents/pkg/validator"
)

// ScanAttendance resolves a scanned or typed ticket and marks the
// registration attended at most once. A repeated scan is a first-class
// duplicate outcome carrying the original attendance time, safe to repeat
// arbitrarily.
func (s *service) ScanAttendance(ctx *ginext.Context) {
	var req dto.ScanRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}

	ticketNumber, err := resolveTicketNumber(req)
	if err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Missing ticket number or QR data")
		return
	}

	organizerID := callerID(ctx)

	reg, err := s.repo.GetRegistrationByTicket(ctx.Request.Context(), ticketNumber)
	if err != nil {
		monitoring.TrackScan("invalid_ticket")
		dto.InvalidTicketError(ctx)
		return
	}

	event, err := s.repo.GetEventByID(ctx.Request.Context(), reg.EventID)
	if err != nil {
		dto.EventNotFoundError(ctx)
		return
	}
	// Ownership is checked against the registration's own event, regardless
	// of any event id supplied in the request.
	if event.OrganizerID != organizerID {
		monitoring.TrackScan("forbidden")
		dto.ForbiddenError(ctx, "You do not organize the event this ticket belongs to")
		return
	}
	if req.EventID != "" && req.EventID != reg.EventID {
		monitoring.TrackScan("event_mismatch")
		dto.ConflictError(ctx, dto.TicketEventMismatch, "Ticket does not belong to this event")
		return
	}
	if reg.Status == model.RegistrationStatusCancelled {
		monitoring.TrackScan("cancelled")
		dto.ConflictError(ctx, dto.RegistrationCancelled, "Registration is cancelled")
		return
	}

	now := time.Now().UTC()
	applied, err := s.repo.MarkAttendance(ctx.Request.Context(), reg.ID, organizerID, now)
	if err != nil {
		s.log.Error().Err(err).Str("registration_id", reg.ID).Msg("failed to mark attendance")
		dto.InternalServerError(ctx)
		return
	}

	participant := s.participantView(ctx, reg)

	if !applied {
		// The conditional update did not match: re-read to tell a duplicate
		// from a concurrent cancellation.
		current, err := s.repo.GetRegistrationByID(ctx.Request.Context(), reg.ID)
		if err != nil {
			s.log.Error().Err(err).Str("registration_id", reg.ID).Msg("failed to re-read registration after scan")
			dto.InternalServerError(ctx)
			return
		}
		if current.Status == model.RegistrationStatusCancelled {
			monitoring.TrackScan("cancelled")
			dto.ConflictError(ctx, dto.RegistrationCancelled, "Registration is cancelled")
			return
		}

		monitoring.TrackScan("duplicate")
		metadata := map[string]string{"ticket_number": reg.TicketNumber}
		if current.AttendanceTime != nil {
			metadata["previous_attendance_time"] = current.AttendanceTime.Format(time.RFC3339)
		}
		s.writeAudit(ctx, &model.AttendanceAudit{
			ID:             uuid.NewString(),
			EventID:        reg.EventID,
			RegistrationID: reg.ID,
			PerformedBy:    organizerID,
			Action:         model.AuditActionScanDuplicate,
			Metadata:       metadata,
		})

		participant.AttendanceTime = current.AttendanceTime
		dto.ConflictWithData(ctx, dto.AlreadyAttended, "Ticket already scanned", dto.DuplicateScanResponse{
			AlreadyAttended: true,
			AttendanceTime:  current.AttendanceTime,
			Participant:     participant,
		})
		return
	}

	monitoring.TrackScan("success")
	s.writeAudit(ctx, &model.AttendanceAudit{
		ID:             uuid.NewString(),
		EventID:        reg.EventID,
		RegistrationID: reg.ID,
		PerformedBy:    organizerID,
		Action:         model.AuditActionScanSuccess,
		Metadata:       map[string]string{"ticket_number": reg.TicketNumber},
	})
	s.stats.Invalidate(ctx.Request.Context(), reg.EventID)

	s.log.Info().
		Str("registration_id", reg.ID).
		Str("event_id", reg.EventID).
		Str("organizer_id", organizerID).
		Msg("attendance marked")

	participant.AttendanceTime = &now
	dto.SuccessResponse(ctx, dto.ScanResultResponse{
		AttendanceTime: now,
		Participant:    participant,
	})
}

// resolveTicketNumber picks the explicit ticket number when present,
// otherwise parses the QR data, which may itself be a bare ticket string.
func resolveTicketNumber(req dto.ScanRequest) (string, error) {
	if trimmed := strings.TrimSpace(req.TicketNumber); trimmed != "" {
		return trimmed, nil
	}
	return ticket.Parse(req.QRData)
}

// ManualOverride marks attendance without a scanner. It always succeeds for
// the organizer; when the registration was already attended the original
// timestamp is preserved and the audit entry says so.
func (s *service) ManualOverride(ctx *ginext.Context) {
	var req dto.ManualOverrideRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	organizerID := callerID(ctx)
	registrationID := ctx.Param("registrationId")

	reg, err := s.repo.GetRegistrationByID(ctx.Request.Context(), registrationID)
	if err != nil {
		dto.RegistrationNotFoundError(ctx)
		return
	}

	event, err := s.repo.GetEventByID(ctx.Request.Context(), reg.EventID)
	if err != nil {
		dto.EventNotFoundError(ctx)
		return
	}
	if event.OrganizerID != organizerID {
		dto.ForbiddenError(ctx, "You do not organize the event this registration belongs to")
		return
	}
	if reg.Status == model.RegistrationStatusCancelled {
		dto.ConflictError(ctx, dto.RegistrationCancelled, "Registration is cancelled")
		return
	}

	alreadyMarked := reg.Attended()

	current, err := s.repo.FillAttendanceIfUnset(ctx.Request.Context(), registrationID, organizerID, time.Now().UTC())
	if err != nil {
		s.log.Error().Err(err).Str("registration_id", registrationID).Msg("failed to override attendance")
		dto.InternalServerError(ctx)
		return
	}

	monitoring.TrackScan("manual_override")
	metadata := map[string]string{
		"ticket_number":  reg.TicketNumber,
		"reason":         req.Reason,
		"already_marked": fmt.Sprintf("%t", alreadyMarked),
	}
	if alreadyMarked && reg.AttendanceTime != nil {
		metadata["previous_attendance_time"] = reg.AttendanceTime.Format(time.RFC3339)
	}
	s.writeAudit(ctx, &model.AttendanceAudit{
		ID:             uuid.NewString(),
		EventID:        reg.EventID,
		RegistrationID: reg.ID,
		PerformedBy:    organizerID,
		Action:         model.AuditActionManualOverride,
		Metadata:       metadata,
	})
	s.stats.Invalidate(ctx.Request.Context(), reg.EventID)

	s.log.Info().
		Str("registration_id", reg.ID).
		Str("organizer_id", organizerID).
		Bool("already_marked", alreadyMarked).
		Msg("manual attendance override")

	participant := s.participantView(ctx, reg)
	participant.AttendanceTime = current.AttendanceTime

	var at time.Time
	if current.AttendanceTime != nil {
		at = *current.AttendanceTime
	}
	dto.SuccessResponse(ctx, dto.ScanResultResponse{
		AttendanceTime: at,
		Participant:    participant,
	})
}

func (s *service) AttendanceStats(ctx *ginext.Context) {
	eventID := ctx.Param("eventId")
	if _, err := s.requireOwnedEvent(ctx, eventID); err != nil {
		return
	}

	if cached, ok := s.stats.Get(ctx.Request.Context(), eventID); ok {
		dto.SuccessResponse(ctx, cached)
		return
	}

	stats, err := s.buildStats(ctx, eventID)
	if err != nil {
		s.log.Error().Err(err).Str("event_id", eventID).Msg("failed to build attendance stats")
		dto.InternalServerError(ctx)
		return
	}

	s.stats.Set(ctx.Request.Context(), eventID, stats)
	dto.SuccessResponse(ctx, stats)
}

func (s *service) buildStats(ctx *ginext.Context, eventID string) (*dto.AttendanceStatsResponse, error) {
	scanned, pending, err := s.repo.AttendanceLists(ctx.Request.Context(), eventID)
	if err != nil {
		return nil, err
	}

	stats := &dto.AttendanceStatsResponse{
		Total:               len(scanned) + len(pending),
		Attended:            len(scanned),
		NotAttended:         len(pending),
		ScannedParticipants: make([]dto.ParticipantView, 0, len(scanned)),
		PendingParticipants: make([]dto.ParticipantView, 0, len(pending)),
	}
	for _, row := range scanned {
		stats.ScannedParticipants = append(stats.ScannedParticipants, attendeeView(row))
	}
	for _, row := range pending {
		stats.PendingParticipants = append(stats.PendingParticipants, attendeeView(row))
	}
	return stats, nil
}

func (s *service) ExportAttendance(ctx *ginext.Context) {
	eventID := ctx.Param("eventId")
	event, err := s.requireOwnedEvent(ctx, eventID)
	if err != nil {
		return
	}

	scanned, pending, err := s.repo.AttendanceLists(ctx.Request.Context(), eventID)
	if err != nil {
		s.log.Error().Err(err).Str("event_id", eventID).Msg("failed to export attendance")
		dto.InternalServerError(ctx)
		return
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"name", "email", "ticket_number", "attended", "attendance_time"})
	for _, row := range scanned {
		at := ""
		if row.AttendanceTime != nil {
			at = row.AttendanceTime.Format(time.RFC3339)
		}
		_ = w.Write([]string{row.Name, row.Email, row.TicketNumber, "yes", at})
	}
	for _, row := range pending {
		_ = w.Write([]string{row.Name, row.Email, row.TicketNumber, "no", ""})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		s.log.Error().Err(err).Msg("failed to write csv")
		dto.InternalServerError(ctx)
		return
	}

	filename := fmt.Sprintf("attendance-%s.csv", event.ID)
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	ctx.Data(200, "text/csv", buf.Bytes())
}

// writeAudit appends an audit entry. A failed write never rolls back the
// attendance mutation; it is logged and counted for server-side diagnostics.
func (s *service) writeAudit(ctx *ginext.Context, entry *model.AttendanceAudit) {
	if err := s.repo.InsertAuditEntry(ctx.Request.Context(), entry); err != nil {
		monitoring.TrackAuditFailure()
		s.log.Error().Err(err).
			Str("registration_id", entry.RegistrationID).
			Str("action", entry.Action).
			Msg("failed to write audit entry")
	}
}

func (s *service) participantView(ctx *ginext.Context, reg *model.Registration) dto.ParticipantView {
	view := dto.ParticipantView{TicketNumber: reg.TicketNumber}
	participant, err := s.repo.GetParticipant(ctx.Request.Context(), reg.ParticipantID)
	if err != nil {
		if !errors.Is(err, repo.ErrParticipantNotFound) {
			s.log.Warn().Err(err).Str("participant_id", reg.ParticipantID).Msg("participant lookup failed")
		}
		return view
	}
	view.Name = participant.Name
	view.Email = participant.Email
	return view
}

func attendeeView(row repo.AttendeeRow) dto.ParticipantView {
	return dto.ParticipantView{
		Name:           row.Name,
		Email:          row.Email,
		TicketNumber:   row.TicketNumber,
		AttendanceTime: row.AttendanceTime,
	}
}
