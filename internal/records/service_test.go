package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func newTestStore() (*InMemory, *stepClock) {
	clock := &stepClock{now: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)}
	return NewInMemory().WithClock(clock.Now), clock
}

func ptr[T any](v T) *T { return &v }

func seedPatient(t *testing.T, s *InMemory) Patient {
	t.Helper()
	ctx := context.Background()
	c, err := s.CreateClinic(ctx, ClinicInput{Name: "Heart Care Institute"})
	if err != nil {
		t.Fatalf("CreateClinic: %v", err)
	}
	p, err := s.CreatePatient(ctx, PatientInput{PatientID: "P001", FirstName: "John", LastName: "Doe", ClinicID: &c.ID})
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	return p
}

func TestClinicLifecycle(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	if _, err := s.CreateClinic(ctx, ClinicInput{Name: "  "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	c, err := s.CreateClinic(ctx, ClinicInput{Name: "CardiaVue Medical Center", Phone: "(555) 123-4567"})
	if err != nil {
		t.Fatalf("CreateClinic: %v", err)
	}
	if !c.Active || c.ID == 0 {
		t.Fatalf("unexpected clinic %+v", c)
	}

	updated, err := s.UpdateClinic(ctx, c.ID, ClinicPatch{Address: ptr("123 Medical Plaza")})
	if err != nil {
		t.Fatalf("UpdateClinic: %v", err)
	}
	if updated.Address != "123 Medical Plaza" || updated.Phone != c.Phone || !updated.UpdatedAt.After(c.UpdatedAt) {
		t.Fatalf("patch not applied: %+v", updated)
	}

	gone, err := s.DeactivateClinic(ctx, c.ID)
	if err != nil {
		t.Fatalf("DeactivateClinic: %v", err)
	}
	if gone.Active {
		t.Fatalf("expected soft delete")
	}
	if _, err := s.GetClinic(ctx, c.ID); err != nil {
		t.Fatalf("soft-deleted clinic must remain readable: %v", err)
	}
	if _, err := s.DeactivateClinic(ctx, 999); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPatientMRNConflictAndClinicReference(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	p := seedPatient(t, s)

	if _, err := s.CreatePatient(ctx, PatientInput{PatientID: "P001", FirstName: "A", LastName: "B"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := s.CreatePatient(ctx, PatientInput{PatientID: "P002", FirstName: "A", LastName: "B", ClinicID: ptr(int64(42))}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown clinic, got %v", err)
	}
	other, err := s.CreatePatient(ctx, PatientInput{PatientID: "P002", FirstName: "Mary", LastName: "Smith"})
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	if _, err := s.UpdatePatient(ctx, other.ID, PatientPatch{PatientID: ptr("P001")}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on rename, got %v", err)
	}
	if _, err := s.UpdatePatient(ctx, p.ID, PatientPatch{PatientID: ptr("P001"), MedicalNotes: ptr("ICD 2019")}); err != nil {
		t.Fatalf("updating own MRN must not conflict: %v", err)
	}
	if _, err := s.UpdatePatient(ctx, p.ID, PatientPatch{LastName: ptr("")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	deleted, err := s.DeactivatePatient(ctx, p.ID)
	if err != nil || deleted.Active {
		t.Fatalf("DeactivatePatient: %+v %v", deleted, err)
	}
}

func TestTransmissionValidation(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	p := seedPatient(t, s)

	cases := []TransmissionInput{
		{PatientID: p.ID, DeviceType: "defibrillator"},
		{PatientID: p.ID, DeviceType: DeviceICD, TransmissionType: "weekly"},
		{PatientID: p.ID, DeviceType: DeviceICD, AlertLevel: "severe"},
		{PatientID: p.ID, DeviceType: DeviceICD, BatteryLevel: ptr(101.0)},
		{PatientID: p.ID, DeviceType: DeviceICD, HeartRateMin: ptr(90.0), HeartRateMax: ptr(60.0)},
		{PatientID: p.ID, DeviceType: DeviceICD, RawData: json.RawMessage(`[1,2]`)},
		{PatientID: 0, DeviceType: DeviceICD},
		{PatientID: 777, DeviceType: DeviceICD},
	}
	for i, in := range cases {
		if _, err := s.CreateTransmission(ctx, in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}

	tx, err := s.CreateTransmission(ctx, TransmissionInput{PatientID: p.ID, DeviceType: DevicePacemaker, RawData: json.RawMessage(`{"lead":"RV"}`)})
	if err != nil {
		t.Fatalf("CreateTransmission: %v", err)
	}
	if tx.TransmissionType != TransmissionScheduled || tx.AlertLevel != AlertNormal || tx.TransmissionID == "" {
		t.Fatalf("defaults not applied: %+v", tx)
	}
	if _, err := s.CreateTransmission(ctx, TransmissionInput{TransmissionID: tx.TransmissionID, PatientID: p.ID, DeviceType: DeviceLoop}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	updated, err := s.UpdateTransmission(ctx, tx.ID, TransmissionPatch{Processed: ptr(true), AlertLevel: ptr(AlertWarning)})
	if err != nil {
		t.Fatalf("UpdateTransmission: %v", err)
	}
	if !updated.Processed || updated.AlertLevel != AlertWarning || updated.DeviceType != DevicePacemaker {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if _, err := s.UpdateTransmission(ctx, tx.ID, TransmissionPatch{AlertLevel: ptr("bad")}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListTransmissionsFilterAndOrder(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	p := seedPatient(t, s)
	q, err := s.CreatePatient(ctx, PatientInput{PatientID: "P002", FirstName: "Mary", LastName: "Smith"})
	if err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}

	levels := []string{AlertNormal, AlertCritical, AlertWarning, AlertCritical}
	var created []Transmission
	for i, lvl := range levels {
		owner := p.ID
		if i%2 == 1 {
			owner = q.ID
		}
		tx, err := s.CreateTransmission(ctx, TransmissionInput{
			TransmissionID: fmt.Sprintf("T%06d", i+1),
			PatientID:      owner,
			DeviceType:     DeviceICD,
			AlertLevel:     lvl,
		})
		if err != nil {
			t.Fatalf("CreateTransmission: %v", err)
		}
		created = append(created, tx)
	}

	all, err := s.ListTransmissions(ctx, TransmissionFilter{})
	if err != nil {
		t.Fatalf("ListTransmissions: %v", err)
	}
	if len(all) != 4 || all[0].ID != created[3].ID || all[3].ID != created[0].ID {
		t.Fatalf("expected newest first, got %v", all)
	}

	critical, _ := s.ListTransmissions(ctx, TransmissionFilter{AlertLevel: AlertCritical})
	if len(critical) != 2 {
		t.Fatalf("expected 2 critical, got %d", len(critical))
	}
	mine, _ := s.ListTransmissions(ctx, TransmissionFilter{PatientID: p.ID, AlertLevel: AlertWarning})
	if len(mine) != 1 || mine[0].TransmissionID != "T000003" {
		t.Fatalf("unexpected filter result %v", mine)
	}
	paged, _ := s.ListTransmissions(ctx, TransmissionFilter{Page: Page{Skip: 1, Limit: 2}})
	if len(paged) != 2 || paged[0].ID != created[2].ID {
		t.Fatalf("unexpected page %v", paged)
	}
	empty, _ := s.ListTransmissions(ctx, TransmissionFilter{Page: Page{Skip: 10}})
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil page")
	}
}

func TestPageNormalize(t *testing.T) {
	cases := []struct{ in, want Page }{
		{Page{}, Page{Limit: DefaultLimit}},
		{Page{Skip: -5, Limit: 10}, Page{Limit: 10}},
		{Page{Limit: 5000}, Page{Limit: MaxLimit}},
	}
	for _, tc := range cases {
		if got := tc.in.Normalize(); got != tc.want {
			t.Fatalf("Normalize(%+v) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestDashboardStats(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()
	p := seedPatient(t, s)
	if _, err := s.CreatePatient(ctx, PatientInput{PatientID: "P009", FirstName: "Old", LastName: "Record"}); err != nil {
		t.Fatalf("CreatePatient: %v", err)
	}
	inactive, _ := s.ListPatients(ctx, Page{})
	if _, err := s.DeactivatePatient(ctx, inactive[1].ID); err != nil {
		t.Fatalf("DeactivatePatient: %v", err)
	}

	// One transmission from yesterday, three today.
	clock.now = clock.now.Add(-24 * time.Hour)
	if _, err := s.CreateTransmission(ctx, TransmissionInput{PatientID: p.ID, DeviceType: DeviceCRT, DeviceSerial: "DEV1", AlertLevel: AlertCritical}); err != nil {
		t.Fatalf("CreateTransmission: %v", err)
	}
	clock.now = clock.now.Add(24 * time.Hour)
	for _, in := range []TransmissionInput{
		{PatientID: p.ID, DeviceType: DeviceICD, DeviceSerial: "DEV1", AlertLevel: AlertWarning},
		{PatientID: p.ID, DeviceType: DeviceICD, DeviceSerial: "DEV2", AlertLevel: AlertCritical},
		{PatientID: p.ID, DeviceType: DevicePacemaker, AlertLevel: AlertNormal},
	} {
		if _, err := s.CreateTransmission(ctx, in); err != nil {
			t.Fatalf("CreateTransmission: %v", err)
		}
	}

	stats, err := s.DashboardStats(ctx, clock.now)
	if err != nil {
		t.Fatalf("DashboardStats: %v", err)
	}
	want := DashboardStats{
		TotalPatients:      1,
		ActiveDevices:      2,
		AlertsToday:        2,
		TransmissionsToday: 3,
		CriticalAlerts:     2,
	}
	if stats.TotalPatients != want.TotalPatients || stats.ActiveDevices != want.ActiveDevices ||
		stats.AlertsToday != want.AlertsToday || stats.TransmissionsToday != want.TransmissionsToday ||
		stats.CriticalAlerts != want.CriticalAlerts {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.DeviceTypes[DeviceICD] != 2 || stats.DeviceTypes[DeviceCRT] != 1 || stats.DeviceTypes[DeviceLoop] != 0 {
		t.Fatalf("unexpected device distribution %v", stats.DeviceTypes)
	}
}

func TestConcurrentPatientCreation(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	conflicts := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreatePatient(ctx, PatientInput{PatientID: fmt.Sprintf("P%03d", i%10), FirstName: "F", LastName: "L"})
			if errors.Is(err, ErrConflict) {
				mu.Lock()
				conflicts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	all, _ := s.ListPatients(ctx, Page{})
	if len(all) != 10 || conflicts != 40 {
		t.Fatalf("uniqueness violated: %d patients, %d conflicts", len(all), conflicts)
	}
}

func TestDateJSON(t *testing.T) {
	var in PatientInput
	if err := json.Unmarshal([]byte(`{"patient_id":"P1","first_name":"a","last_name":"b","date_of_birth":"1970-05-15"}`), &in); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if in.DateOfBirth == nil || in.DateOfBirth.String() != "1970-05-15" {
		t.Fatalf("unexpected date %v", in.DateOfBirth)
	}
	if err := json.Unmarshal([]byte(`{"date_of_birth":"15/05/1970"}`), &in); err == nil {
		t.Fatalf("expected error for bad date")
	}
}
