package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"campusevents/internal/model"
	"campusevents/internal/repo"
)

// fakeRepo is an in-memory Repository with the same conditional-write
// semantics as the SQL implementation: every admit runs under one lock, the
// stock decrement is guarded, and attendance marking only applies to
// unmarked REGISTERED rows.
type fakeRepo struct {
	mu           sync.Mutex
	events       map[string]*model.Event
	regs         map[string]*model.Registration
	participants map[string]*model.Participant
	audits       []model.AttendanceAudit
	auditErr     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		events:       make(map[string]*model.Event),
		regs:         make(map[string]*model.Registration),
		participants: make(map[string]*model.Participant),
	}
}

func (f *fakeRepo) addEvent(e model.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := e
	f.events[e.ID] = &cp
}

func (f *fakeRepo) addParticipant(p model.Participant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := p
	f.participants[p.ID] = &cp
}

func (f *fakeRepo) addRegistration(r model.Registration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := r
	f.regs[r.ID] = &cp
}

func (f *fakeRepo) auditActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := make([]string, 0, len(f.audits))
	for _, a := range f.audits {
		actions = append(actions, a.Action)
	}
	return actions
}

func (f *fakeRepo) lastAudit() *model.AttendanceAudit {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.audits) == 0 {
		return nil
	}
	cp := f.audits[len(f.audits)-1]
	return &cp
}

func (f *fakeRepo) CreateEvent(_ context.Context, e *model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.events[e.ID] = &cp
	return nil
}

func (f *fakeRepo) GetEventByID(_ context.Context, id string) (*model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, repo.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeRepo) GetEventsByOrganizer(_ context.Context, organizerID string) ([]model.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Event
	for _, e := range f.events {
		if e.OrganizerID == organizerID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateEventStatus(_ context.Context, eventID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok {
		return repo.ErrEventNotFound
	}
	e.Status = status
	return nil
}

func (f *fakeRepo) DeleteDraftEvent(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok {
		return repo.ErrEventNotFound
	}
	if e.Status != model.EventStatusDraft {
		return repo.ErrEventNotDraft
	}
	delete(f.events, eventID)
	return nil
}

func (f *fakeRepo) activeCountLocked(eventID string) int {
	count := 0
	for _, r := range f.regs {
		if r.EventID == eventID && r.Status != model.RegistrationStatusCancelled {
			count++
		}
	}
	return count
}

func (f *fakeRepo) activeByParticipantLocked(eventID, participantID string) int {
	count := 0
	for _, r := range f.regs {
		if r.EventID == eventID && r.ParticipantID == participantID &&
			r.Status != model.RegistrationStatusCancelled {
			count++
		}
	}
	return count
}

func (f *fakeRepo) RegisterTx(_ context.Context, reg *model.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.events[reg.EventID]
	if !ok {
		return repo.ErrEventNotFound
	}
	if e.Kind != model.EventKindNormal {
		return repo.ErrWrongEventKind
	}
	if e.Status != model.EventStatusPublished {
		return repo.ErrEventNotOpen
	}
	if e.RegistrationDeadline != nil && time.Now().After(*e.RegistrationDeadline) {
		return repo.ErrDeadlinePassed
	}
	if f.activeByParticipantLocked(reg.EventID, reg.ParticipantID) > 0 {
		return repo.ErrDuplicateRegistration
	}
	if e.RegistrationLimit != nil && f.activeCountLocked(reg.EventID) >= *e.RegistrationLimit {
		return repo.ErrEventFull
	}

	cp := *reg
	f.regs[reg.ID] = &cp
	return nil
}

func (f *fakeRepo) PurchaseTx(_ context.Context, reg *model.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.events[reg.EventID]
	if !ok {
		return repo.ErrEventNotFound
	}
	if e.Kind != model.EventKindMerch {
		return repo.ErrWrongEventKind
	}
	if e.Status != model.EventStatusPublished {
		return repo.ErrEventNotOpen
	}
	if e.Stock == nil || *e.Stock <= 0 {
		return repo.ErrOutOfStock
	}
	if e.PurchaseLimit != nil && f.activeByParticipantLocked(reg.EventID, reg.ParticipantID) >= *e.PurchaseLimit {
		return repo.ErrPurchaseLimitReached
	}

	*e.Stock--
	cp := *reg
	f.regs[reg.ID] = &cp
	return nil
}

func (f *fakeRepo) CancelRegistrationTx(_ context.Context, participantID, registrationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.regs[registrationID]
	if !ok || r.ParticipantID != participantID {
		return repo.ErrRegistrationNotFound
	}
	if r.Status == model.RegistrationStatusCancelled {
		return repo.ErrAlreadyCancelled
	}
	r.Status = model.RegistrationStatusCancelled
	return nil
}

func (f *fakeRepo) GetRegistrationByID(_ context.Context, id string) (*model.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.regs[id]
	if !ok {
		return nil, repo.ErrRegistrationNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) GetRegistrationByTicket(_ context.Context, ticketNumber string) (*model.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.regs {
		if r.TicketNumber == ticketNumber {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repo.ErrRegistrationNotFound
}

func (f *fakeRepo) CountActiveRegistrations(_ context.Context, eventID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeCountLocked(eventID), nil
}

func (f *fakeRepo) MarkAttendance(_ context.Context, registrationID, organizerID string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.regs[registrationID]
	if !ok {
		return false, nil
	}
	if r.AttendanceMarked || r.AttendanceTime != nil || r.Status != model.RegistrationStatusRegistered {
		return false, nil
	}
	r.AttendanceMarked = true
	t := at
	r.AttendanceTime = &t
	r.AttendanceMarkedBy = organizerID
	r.Status = model.RegistrationStatusAttended
	return true, nil
}

func (f *fakeRepo) FillAttendanceIfUnset(_ context.Context, registrationID, organizerID string, at time.Time) (*model.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.regs[registrationID]
	if !ok {
		return nil, repo.ErrRegistrationNotFound
	}
	if r.Status != model.RegistrationStatusCancelled {
		r.AttendanceMarked = true
		if r.AttendanceTime == nil {
			t := at
			r.AttendanceTime = &t
		}
		if r.AttendanceMarkedBy == "" {
			r.AttendanceMarkedBy = organizerID
		}
		r.Status = model.RegistrationStatusAttended
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) InsertAuditEntry(_ context.Context, entry *model.AttendanceAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return f.auditErr
	}
	f.audits = append(f.audits, *entry)
	return nil
}

func (f *fakeRepo) GetParticipant(_ context.Context, id string) (*model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[id]
	if !ok {
		return nil, repo.ErrParticipantNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) AttendanceLists(_ context.Context, eventID string) ([]repo.AttendeeRow, []repo.AttendeeRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var regs []*model.Registration
	for _, r := range f.regs {
		if r.EventID == eventID && r.Status != model.RegistrationStatusCancelled {
			regs = append(regs, r)
		}
	}
	sort.Slice(regs, func(i, j int) bool {
		return regs[i].RegisteredAt.Before(regs[j].RegisteredAt)
	})

	var scanned, pending []repo.AttendeeRow
	for _, r := range regs {
		row := repo.AttendeeRow{TicketNumber: r.TicketNumber, AttendanceTime: r.AttendanceTime}
		if p, ok := f.participants[r.ParticipantID]; ok {
			row.Name = p.Name
			row.Email = p.Email
		}
		if r.AttendanceMarked || r.AttendanceTime != nil {
			scanned = append(scanned, row)
		} else {
			pending = append(pending, row)
		}
	}
	sort.SliceStable(scanned, func(i, j int) bool {
		if scanned[i].AttendanceTime == nil || scanned[j].AttendanceTime == nil {
			return false
		}
		return scanned[i].AttendanceTime.After(*scanned[j].AttendanceTime)
	})
	return scanned, pending, nil
}

func (f *fakeRepo) MigrateUp(string) error   { return nil }
func (f *fakeRepo) MigrateDown(string) error { return nil }
