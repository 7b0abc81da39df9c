package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cardiavue.org/internal/auth"
	"cardiavue.org/internal/records"
)

// DemoUsers are the development accounts. Passwords are for local use only.
var DemoUsers = []auth.NewUser{
	{Username: "doctor1", Password: "password123", Role: "doctor", Email: "doctor1@cardiavue.com", FullName: "Dr. Sarah Johnson"},
	{Username: "nurse1", Password: "password123", Role: "nurse", Email: "nurse1@cardiavue.com", FullName: "Nurse Emily Chen"},
	{Username: "admin", Password: "admin123", Role: "admin", Email: "admin@cardiavue.com", FullName: "Admin User"},
}

var demoClinics = []records.ClinicInput{
	{Name: "CardiaVue Medical Center", Address: "123 Medical Plaza, Healthcare City, HC 12345", Phone: "(555) 123-4567", Email: "contact@cardiavue-medical.com"},
	{Name: "Heart Care Institute", Address: "456 Cardiac Ave, Wellness Town, WT 67890", Phone: "(555) 987-6543", Email: "info@heartcare.com"},
}

// demoPatients reference clinics by index into demoClinics.
var demoPatients = []struct {
	clinic int
	in     records.PatientInput
}{
	{0, records.PatientInput{PatientID: "P001", FirstName: "John", LastName: "Doe", Gender: "Male", Phone: "(555) 111-2222", Email: "john.doe@email.com", EmergencyContact: "Jane Doe", EmergencyPhone: "(555) 111-3333", MedicalNotes: "Pacemaker implanted 2020. Regular follow-ups required."}},
	{0, records.PatientInput{PatientID: "P002", FirstName: "Mary", LastName: "Smith", Gender: "Female", Phone: "(555) 444-5555", Email: "mary.smith@email.com", EmergencyContact: "Bob Smith", EmergencyPhone: "(555) 444-6666", MedicalNotes: "ICD implanted 2019. History of arrhythmia."}},
	{1, records.PatientInput{PatientID: "P003", FirstName: "Robert", LastName: "Johnson", Gender: "Male", Phone: "(555) 777-8888", Email: "robert.johnson@email.com", EmergencyContact: "Susan Johnson", EmergencyPhone: "(555) 777-9999", MedicalNotes: "CRT device implanted 2021. Heart failure management."}},
}

var demoBirthdays = []records.Date{
	records.NewDate(1970, time.May, 15),
	records.NewDate(1965, time.August, 22),
	records.NewDate(1958, time.December, 3),
}

const demoTransmissions = 12

// SeedUsers registers DemoUsers, skipping accounts that already exist.
func SeedUsers(ctx context.Context, users auth.UserStore, hasher auth.Hasher) error {
	for _, u := range DemoUsers {
		if _, err := auth.RegisterUser(ctx, users, hasher, u); err != nil && !errors.Is(err, auth.ErrConflict) {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
	}
	return nil
}

// SeedRecords creates the demo clinics, patients and a deterministic set of transmissions.
func SeedRecords(ctx context.Context, recs records.Service) error {
	clinicIDs := make([]int64, 0, len(demoClinics))
	for _, in := range demoClinics {
		c, err := recs.CreateClinic(ctx, in)
		if err != nil {
			return fmt.Errorf("seed clinic %q: %w", in.Name, err)
		}
		clinicIDs = append(clinicIDs, c.ID)
	}

	patientIDs := make([]int64, 0, len(demoPatients))
	for i, dp := range demoPatients {
		in := dp.in
		dob := demoBirthdays[i]
		in.DateOfBirth = &dob
		in.ClinicID = &clinicIDs[dp.clinic]
		p, err := recs.CreatePatient(ctx, in)
		if err != nil {
			return fmt.Errorf("seed patient %s: %w", in.PatientID, err)
		}
		patientIDs = append(patientIDs, p.ID)
	}

	devices := records.DeviceTypes()
	types := []string{records.TransmissionScheduled, records.TransmissionEmergency, records.TransmissionFollowUp}
	alerts := []string{records.AlertNormal, records.AlertNormal, records.AlertWarning, records.AlertCritical}
	for i := 0; i < demoTransmissions; i++ {
		avg := 60 + float64((i*7)%40)
		battery := 100 - float64((i*9)%80)
		lo, hi := avg-15, avg+25
		in := records.TransmissionInput{
			TransmissionID:     fmt.Sprintf("T%06d", i+1),
			PatientID:          patientIDs[i%len(patientIDs)],
			DeviceType:         devices[i%len(devices)],
			DeviceSerial:       fmt.Sprintf("DEV%05d", 10000+(i%5)*1111),
			TransmissionType:   types[i%len(types)],
			HeartRateAvg:       &avg,
			HeartRateMin:       &lo,
			HeartRateMax:       &hi,
			BatteryLevel:       &battery,
			ArrhythmiaDetected: i%4 == 3,
			AlertLevel:         alerts[i%len(alerts)],
			Notes:              fmt.Sprintf("Demo transmission %d", i+1),
		}
		if _, err := recs.CreateTransmission(ctx, in); err != nil {
			return fmt.Errorf("seed transmission %s: %w", in.TransmissionID, err)
		}
	}
	return nil
}

// SeedDemo loads the demo data once per database, tracked in the seeds table.
func (m *Manager) SeedDemo(ctx context.Context, users auth.UserStore, recs records.Service, hasher auth.Hasher) ([]string, error) {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"001_demo_users", func(ctx context.Context) error { return SeedUsers(ctx, users, hasher) }},
		{"002_demo_records", func(ctx context.Context) error { return SeedRecords(ctx, recs) }},
	}
	var applied []string
	for _, step := range steps {
		ran, err := m.Seed(ctx, step.name, step.fn)
		if err != nil {
			return applied, err
		}
		if ran {
			applied = append(applied, step.name)
		}
	}
	return applied, nil
}
