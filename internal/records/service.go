package records

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Service defines clinic, patient and transmission operations.
// Authorization happens before these calls; implementations trust their caller.
type Service interface {
	ListClinics(ctx context.Context, page Page) ([]Clinic, error)
	GetClinic(ctx context.Context, id int64) (Clinic, error)
	CreateClinic(ctx context.Context, in ClinicInput) (Clinic, error)
	UpdateClinic(ctx context.Context, id int64, patch ClinicPatch) (Clinic, error)
	DeactivateClinic(ctx context.Context, id int64) (Clinic, error)

	ListPatients(ctx context.Context, page Page) ([]Patient, error)
	GetPatient(ctx context.Context, id int64) (Patient, error)
	CreatePatient(ctx context.Context, in PatientInput) (Patient, error)
	UpdatePatient(ctx context.Context, id int64, patch PatientPatch) (Patient, error)
	DeactivatePatient(ctx context.Context, id int64) (Patient, error)

	ListTransmissions(ctx context.Context, filter TransmissionFilter) ([]Transmission, error)
	GetTransmission(ctx context.Context, id int64) (Transmission, error)
	CreateTransmission(ctx context.Context, in TransmissionInput) (Transmission, error)
	UpdateTransmission(ctx context.Context, id int64, patch TransmissionPatch) (Transmission, error)
	DashboardStats(ctx context.Context, now time.Time) (DashboardStats, error)

	Ping(ctx context.Context) error
}

var _ Service = (*InMemory)(nil)

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu            sync.RWMutex
	now           func() time.Time
	seq           int64
	clinics       map[int64]*Clinic
	patients      map[int64]*Patient
	transmissions map[int64]*Transmission
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		now:           time.Now,
		clinics:       make(map[int64]*Clinic),
		patients:      make(map[int64]*Patient),
		transmissions: make(map[int64]*Transmission),
	}
}

// WithClock replaces the timestamp source.
func (s *InMemory) WithClock(now func() time.Time) *InMemory {
	s.now = now
	return s
}

func (s *InMemory) Ping(ctx context.Context) error { return ctx.Err() }

func (s *InMemory) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *InMemory) ListClinics(ctx context.Context, page Page) ([]Clinic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Clinic, 0, len(s.clinics))
	for _, c := range s.clinics {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return window(out, page), nil
}

func (s *InMemory) GetClinic(ctx context.Context, id int64) (Clinic, error) {
	if err := ctx.Err(); err != nil {
		return Clinic{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clinics[id]
	if !ok {
		return Clinic{}, ErrNotFound
	}
	return *c, nil
}

func (s *InMemory) CreateClinic(ctx context.Context, in ClinicInput) (Clinic, error) {
	if err := in.Validate(); err != nil {
		return Clinic{}, err
	}
	if err := ctx.Err(); err != nil {
		return Clinic{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	c := &Clinic{
		ID:        s.nextID(),
		Name:      in.Name,
		Address:   in.Address,
		Phone:     in.Phone,
		Email:     in.Email,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.clinics[c.ID] = c
	return *c, nil
}

func (s *InMemory) UpdateClinic(ctx context.Context, id int64, patch ClinicPatch) (Clinic, error) {
	if err := ctx.Err(); err != nil {
		return Clinic{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clinics[id]
	if !ok {
		return Clinic{}, ErrNotFound
	}
	next := *c
	if err := patch.Apply(&next); err != nil {
		return Clinic{}, err
	}
	next.UpdatedAt = s.now().UTC()
	*c = next
	return next, nil
}

func (s *InMemory) DeactivateClinic(ctx context.Context, id int64) (Clinic, error) {
	inactive := false
	return s.UpdateClinic(ctx, id, ClinicPatch{Active: &inactive})
}

func (s *InMemory) ListPatients(ctx context.Context, page Page) ([]Patient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return window(out, page), nil
}

func (s *InMemory) GetPatient(ctx context.Context, id int64) (Patient, error) {
	if err := ctx.Err(); err != nil {
		return Patient{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return Patient{}, ErrNotFound
	}
	return *p, nil
}

func (s *InMemory) CreatePatient(ctx context.Context, in PatientInput) (Patient, error) {
	if err := in.Validate(); err != nil {
		return Patient{}, err
	}
	if err := ctx.Err(); err != nil {
		return Patient{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := in.Patient()
	if err := s.checkPatientLocked(p, 0); err != nil {
		return Patient{}, err
	}
	now := s.now().UTC()
	p.ID = s.nextID()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.patients[p.ID] = &p
	return p, nil
}

func (s *InMemory) UpdatePatient(ctx context.Context, id int64, patch PatientPatch) (Patient, error) {
	if err := ctx.Err(); err != nil {
		return Patient{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return Patient{}, ErrNotFound
	}
	next := *p
	if err := patch.Apply(&next); err != nil {
		return Patient{}, err
	}
	if err := s.checkPatientLocked(next, id); err != nil {
		return Patient{}, err
	}
	next.UpdatedAt = s.now().UTC()
	*p = next
	return next, nil
}

func (s *InMemory) DeactivatePatient(ctx context.Context, id int64) (Patient, error) {
	inactive := false
	return s.UpdatePatient(ctx, id, PatientPatch{Active: &inactive})
}

// checkPatientLocked enforces MRN uniqueness and the clinic reference.
func (s *InMemory) checkPatientLocked(p Patient, self int64) error {
	for id, other := range s.patients {
		if id != self && other.PatientID == p.PatientID {
			return fmt.Errorf("%w: patient_id %q", ErrConflict, p.PatientID)
		}
	}
	if p.ClinicID != nil {
		if _, ok := s.clinics[*p.ClinicID]; !ok {
			return fmt.Errorf("%w: clinic %d does not exist", ErrInvalidInput, *p.ClinicID)
		}
	}
	return nil
}

func (s *InMemory) ListTransmissions(ctx context.Context, filter TransmissionFilter) ([]Transmission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transmission
	for _, t := range s.transmissions {
		if filter.PatientID != 0 && t.PatientID != filter.PatientID {
			continue
		}
		if filter.AlertLevel != "" && t.AlertLevel != filter.AlertLevel {
			continue
		}
		out = append(out, *t)
	}
	// Newest first; ties broken by id so pages are stable.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return window(out, filter.Page), nil
}

func (s *InMemory) GetTransmission(ctx context.Context, id int64) (Transmission, error) {
	if err := ctx.Err(); err != nil {
		return Transmission{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transmissions[id]
	if !ok {
		return Transmission{}, ErrNotFound
	}
	return *t, nil
}

func (s *InMemory) CreateTransmission(ctx context.Context, in TransmissionInput) (Transmission, error) {
	t := in.Transmission()
	if err := t.Validate(); err != nil {
		return Transmission{}, err
	}
	if err := ctx.Err(); err != nil {
		return Transmission{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkTransmissionLocked(t, 0); err != nil {
		return Transmission{}, err
	}
	now := s.now().UTC()
	t.ID = s.nextID()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.transmissions[t.ID] = &t
	return t, nil
}

func (s *InMemory) UpdateTransmission(ctx context.Context, id int64, patch TransmissionPatch) (Transmission, error) {
	if err := ctx.Err(); err != nil {
		return Transmission{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transmissions[id]
	if !ok {
		return Transmission{}, ErrNotFound
	}
	next := *t
	patch.Apply(&next)
	if err := next.Validate(); err != nil {
		return Transmission{}, err
	}
	if err := s.checkTransmissionLocked(next, id); err != nil {
		return Transmission{}, err
	}
	next.UpdatedAt = s.now().UTC()
	*t = next
	return next, nil
}

func (s *InMemory) checkTransmissionLocked(t Transmission, self int64) error {
	for id, other := range s.transmissions {
		if id != self && other.TransmissionID == t.TransmissionID {
			return fmt.Errorf("%w: transmission_id %q", ErrConflict, t.TransmissionID)
		}
	}
	if _, ok := s.patients[t.PatientID]; !ok {
		return fmt.Errorf("%w: patient %d does not exist", ErrInvalidInput, t.PatientID)
	}
	return nil
}

func (s *InMemory) DashboardStats(ctx context.Context, now time.Time) (DashboardStats, error) {
	if err := ctx.Err(); err != nil {
		return DashboardStats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := StartOfDay(now)
	stats := DashboardStats{DeviceTypes: newDeviceCounts()}
	serials := make(map[string]struct{})
	for _, p := range s.patients {
		if p.Active {
			stats.TotalPatients++
		}
	}
	for _, t := range s.transmissions {
		if t.AlertLevel == AlertCritical {
			stats.CriticalAlerts++
		}
		if !t.CreatedAt.Before(since) {
			stats.TransmissionsToday++
			if t.AlertLevel == AlertWarning || t.AlertLevel == AlertCritical {
				stats.AlertsToday++
			}
		}
		if _, ok := stats.DeviceTypes[t.DeviceType]; ok {
			stats.DeviceTypes[t.DeviceType]++
		}
		if t.DeviceSerial != "" {
			serials[t.DeviceSerial] = struct{}{}
		}
	}
	stats.ActiveDevices = len(serials)
	return stats, nil
}

func window[T any](items []T, page Page) []T {
	page = page.Normalize()
	if page.Skip >= len(items) {
		return []T{}
	}
	items = items[page.Skip:]
	if len(items) > page.Limit {
		items = items[:page.Limit]
	}
	return items
}
