package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"campusevents/internal/cache"
	"campusevents/internal/dto"
	"campusevents/internal/model"
	"campusevents/internal/repo"
	"campusevents/internal/ticket"
	"campusevents/monitoring"
	"campusevents/pkg/validator"
)

type Service interface {
	RegisterNormal(ctx *ginext.Context)
	PurchaseMerch(ctx *ginext.Context)
	CancelRegistration(ctx *ginext.Context)

	ScanAttendance(ctx *ginext.Context)
	ManualOverride(ctx *ginext.Context)
	AttendanceStats(ctx *ginext.Context)
	ExportAttendance(ctx *ginext.Context)

	CreateEvent(ctx *ginext.Context)
	GetEvent(ctx *ginext.Context)
	ListEvents(ctx *ginext.Context)
	UpdateEventStatus(ctx *ginext.Context)
	DeleteEvent(ctx *ginext.Context)
}

// Publisher is the slice of the rabbit client the service needs: it hands a
// serialized notification off and never waits for delivery.
type Publisher interface {
	Publish(message []byte) error
}

type service struct {
	repo  repo.Repository
	log   *zerolog.Logger
	rbt   Publisher
	stats *cache.StatsCache
}

func NewService(repository repo.Repository, logger *zerolog.Logger, rbt Publisher, stats *cache.StatsCache) Service {
	return &service{
		repo:  repository,
		log:   logger,
		rbt:   rbt,
		stats: stats,
	}
}

// identity set by the auth middleware.
func callerID(ctx *ginext.Context) string {
	return ctx.GetString("user_id")
}

func (s *service) RegisterNormal(ctx *ginext.Context) {
	var req dto.RegisterNormalRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	participantID := callerID(ctx)

	tck, err := ticket.Issue(ticket.DefaultPrefix, req.EventID, participantID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to issue ticket")
		dto.InternalServerError(ctx)
		return
	}

	reg := &model.Registration{
		ID:                   uuid.NewString(),
		EventID:              req.EventID,
		ParticipantID:        participantID,
		Status:               model.RegistrationStatusRegistered,
		TicketNumber:         tck.Number,
		QRPayload:            tck.QRPayload,
		CustomFieldResponses: req.FormResponses,
		RegisteredAt:         time.Now().UTC(),
	}

	if err := s.repo.RegisterTx(ctx.Request.Context(), reg); err != nil {
		monitoring.TrackRegistration(model.EventKindNormal, "rejected")
		s.respondRegistrationError(ctx, err)
		return
	}
	monitoring.TrackRegistration(model.EventKindNormal, "admitted")

	s.log.Info().
		Str("registration_id", reg.ID).
		Str("event_id", reg.EventID).
		Str("ticket_number", reg.TicketNumber).
		Msg("registration created successfully")

	s.notify(ctx, dto.NotifyTicketIssued, reg)
	s.stats.Invalidate(ctx.Request.Context(), reg.EventID)

	dto.SuccessCreatedResponse(ctx, registrationResponse(reg))
}

func (s *service) PurchaseMerch(ctx *ginext.Context) {
	var req dto.PurchaseMerchRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	participantID := callerID(ctx)

	tck, err := ticket.Issue(ticket.DefaultPrefix, req.EventID, participantID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to issue ticket")
		dto.InternalServerError(ctx)
		return
	}

	reg := &model.Registration{
		ID:            uuid.NewString(),
		EventID:       req.EventID,
		ParticipantID: participantID,
		Status:        model.RegistrationStatusRegistered,
		TicketNumber:  tck.Number,
		QRPayload:     tck.QRPayload,
		RegisteredAt:  time.Now().UTC(),
	}

	if err := s.repo.PurchaseTx(ctx.Request.Context(), reg); err != nil {
		monitoring.TrackRegistration(model.EventKindMerch, "rejected")
		s.respondRegistrationError(ctx, err)
		return
	}
	monitoring.TrackRegistration(model.EventKindMerch, "admitted")

	s.log.Info().
		Str("registration_id", reg.ID).
		Str("event_id", reg.EventID).
		Msg("merch purchase completed")

	s.notify(ctx, dto.NotifyTicketIssued, reg)
	s.stats.Invalidate(ctx.Request.Context(), reg.EventID)

	dto.SuccessCreatedResponse(ctx, registrationResponse(reg))
}

func (s *service) respondRegistrationError(ctx *ginext.Context, err error) {
	switch {
	case errors.Is(err, repo.ErrEventNotFound):
		dto.EventNotFoundError(ctx)
	case errors.Is(err, repo.ErrWrongEventKind):
		dto.BadResponseError(ctx, dto.WrongEventKind, "Event does not accept this kind of registration")
	case errors.Is(err, repo.ErrEventNotOpen):
		dto.BadResponseError(ctx, dto.RegistrationClosed, "Event is not open for registration")
	case errors.Is(err, repo.ErrDeadlinePassed):
		dto.BadResponseError(ctx, dto.DeadlinePassed, "Registration deadline has passed")
	case errors.Is(err, repo.ErrDuplicateRegistration):
		dto.RegistrationDuplicateError(ctx)
	case errors.Is(err, repo.ErrEventFull):
		dto.BadResponseError(ctx, dto.LimitReached, "Registration limit reached")
	case errors.Is(err, repo.ErrOutOfStock):
		dto.BadResponseError(ctx, dto.OutOfStock, "Out of stock")
	case errors.Is(err, repo.ErrPurchaseLimitReached):
		dto.BadResponseError(ctx, dto.PurchaseLimitReached, "Purchase limit reached")
	default:
		s.log.Error().Err(err).Msg("failed to admit registration")
		dto.InternalServerError(ctx)
	}
}

// notify publishes an email notification. Delivery is fire-and-forget: a
// publish failure is logged and never surfaced to the caller.
func (s *service) notify(ctx *ginext.Context, kind string, reg *model.Registration) {
	participant, err := s.repo.GetParticipant(ctx.Request.Context(), reg.ParticipantID)
	if err != nil {
		s.log.Warn().Err(err).Str("participant_id", reg.ParticipantID).Msg("participant lookup failed, skipping notification")
		return
	}
	event, err := s.repo.GetEventByID(ctx.Request.Context(), reg.EventID)
	if err != nil {
		s.log.Warn().Err(err).Str("event_id", reg.EventID).Msg("event lookup failed, skipping notification")
		return
	}

	msg := dto.NotificationMessage{
		Kind:           kind,
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		EventName:      event.Name,
		ToEmail:        participant.Email,
		TicketNumber:   reg.TicketNumber,
		QRPayload:      reg.QRPayload,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal notification message")
		return
	}
	if err := s.rbt.Publish(payload); err != nil {
		s.log.Warn().Err(err).Str("registration_id", reg.ID).Msg("failed to publish notification message")
	}
}

func (s *service) CancelRegistration(ctx *ginext.Context) {
	registrationID := ctx.Param("id")
	participantID := callerID(ctx)

	reg, err := s.repo.GetRegistrationByID(ctx.Request.Context(), registrationID)
	if err != nil || reg.ParticipantID != participantID {
		dto.RegistrationNotFoundError(ctx)
		return
	}

	if err := s.repo.CancelRegistrationTx(ctx.Request.Context(), participantID, registrationID); err != nil {
		switch {
		case errors.Is(err, repo.ErrRegistrationNotFound):
			dto.RegistrationNotFoundError(ctx)
		case errors.Is(err, repo.ErrAlreadyCancelled):
			dto.BadResponseError(ctx, dto.AlreadyCancelled, "Registration is already cancelled")
		default:
			s.log.Error().Err(err).Msg("failed to cancel registration")
			dto.InternalServerError(ctx)
		}
		return
	}

	s.log.Info().
		Str("registration_id", registrationID).
		Str("participant_id", participantID).
		Msg("registration cancelled")

	s.notify(ctx, dto.NotifyRegistrationCancelled, reg)
	s.stats.Invalidate(ctx.Request.Context(), reg.EventID)
	dto.SuccessResponse(ctx, map[string]string{"id": registrationID, "status": model.RegistrationStatusCancelled})
}

func (s *service) CreateEvent(ctx *ginext.Context) {
	var req dto.CreateEventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}
	if req.Kind == model.EventKindMerch && req.Stock == nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Merch events require a stock value")
		return
	}
	if req.Kind == model.EventKindNormal && req.Stock != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Only merch events carry stock")
		return
	}

	event := &model.Event{
		ID:                   uuid.NewString(),
		OrganizerID:          callerID(ctx),
		Name:                 req.Name,
		Kind:                 req.Kind,
		Status:               model.EventStatusDraft,
		RegistrationDeadline: req.RegistrationDeadline,
		RegistrationLimit:    req.RegistrationLimit,
		Stock:                req.Stock,
		PurchaseLimit:        req.PurchaseLimit,
		RegistrationFee:      req.RegistrationFee,
		CustomFieldSchema:    req.CustomFieldSchema,
	}

	if err := s.repo.CreateEvent(ctx.Request.Context(), event); err != nil {
		s.log.Error().Err(err).Msg("failed to create event in DB")
		dto.InternalServerError(ctx)
		return
	}

	s.log.Info().Str("event_id", event.ID).Str("kind", event.Kind).Msg("event created successfully")
	dto.SuccessCreatedResponse(ctx, event)
}

func (s *service) GetEvent(ctx *ginext.Context) {
	event, err := s.repo.GetEventByID(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		dto.EventNotFoundError(ctx)
		return
	}
	dto.SuccessResponse(ctx, event)
}

func (s *service) ListEvents(ctx *ginext.Context) {
	events, err := s.repo.GetEventsByOrganizer(ctx.Request.Context(), callerID(ctx))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list events")
		dto.InternalServerError(ctx)
		return
	}
	dto.SuccessResponse(ctx, events)
}

func (s *service) UpdateEventStatus(ctx *ginext.Context) {
	var req dto.UpdateEventStatusRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, "Invalid JSON format")
		return
	}
	if verr := validator.Validate(ctx, req); verr != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, fmt.Sprintf("%v", verr))
		return
	}

	event, err := s.requireOwnedEvent(ctx, ctx.Param("id"))
	if err != nil {
		return
	}

	if err := s.repo.UpdateEventStatus(ctx.Request.Context(), event.ID, req.Status); err != nil {
		s.log.Error().Err(err).Msg("failed to update event status")
		dto.InternalServerError(ctx)
		return
	}

	s.log.Info().Str("event_id", event.ID).Str("status", req.Status).Msg("event status updated")
	dto.SuccessResponse(ctx, map[string]string{"id": event.ID, "status": req.Status})
}

func (s *service) DeleteEvent(ctx *ginext.Context) {
	event, err := s.requireOwnedEvent(ctx, ctx.Param("id"))
	if err != nil {
		return
	}

	if err := s.repo.DeleteDraftEvent(ctx.Request.Context(), event.ID); err != nil {
		switch {
		case errors.Is(err, repo.ErrEventNotFound):
			dto.EventNotFoundError(ctx)
		case errors.Is(err, repo.ErrEventNotDraft):
			dto.ConflictError(ctx, dto.EventNotDraft, "Only draft events can be deleted")
		default:
			s.log.Error().Err(err).Msg("failed to delete event")
			dto.InternalServerError(ctx)
		}
		return
	}

	s.log.Info().Str("event_id", event.ID).Msg("draft event deleted")
	dto.SuccessResponse(ctx, map[string]string{"id": event.ID})
}

// requireOwnedEvent loads an event and verifies the caller organizes it.
// On failure the response has already been written.
func (s *service) requireOwnedEvent(ctx *ginext.Context, eventID string) (*model.Event, error) {
	event, err := s.repo.GetEventByID(ctx.Request.Context(), eventID)
	if err != nil {
		dto.EventNotFoundError(ctx)
		return nil, err
	}
	if event.OrganizerID != callerID(ctx) {
		dto.ForbiddenError(ctx, "You do not organize this event")
		return nil, errNotOwner
	}
	return event, nil
}

var errNotOwner = errors.New("caller does not organize this event")

func registrationResponse(reg *model.Registration) dto.RegistrationResponse {
	return dto.RegistrationResponse{
		ID:             reg.ID,
		EventID:        reg.EventID,
		ParticipantID:  reg.ParticipantID,
		Status:         reg.Status,
		TicketNumber:   reg.TicketNumber,
		QRPayload:      reg.QRPayload,
		AttendanceTime: reg.AttendanceTime,
		RegisteredAt:   reg.RegisteredAt,
	}
}
