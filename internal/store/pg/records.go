package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cardiavue.org/internal/records"
)

const clinicColumns = `id, name, address, phone, email, is_active, created_at, updated_at`

func scanClinic(row rowScanner) (records.Clinic, error) {
	var (
		c                     records.Clinic
		address, phone, email sql.NullString
	)
	if err := row.Scan(&c.ID, &c.Name, &address, &phone, &email, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return records.Clinic{}, err
	}
	c.Address, c.Phone, c.Email = address.String, phone.String, email.String
	return c, nil
}

func (s *Store) ListClinics(ctx context.Context, page records.Page) ([]records.Clinic, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx, `
		select `+clinicColumns+`
		from clinics
		order by id
		offset $1 limit $2
	`, page.Skip, page.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []records.Clinic{}
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetClinic(ctx context.Context, id int64) (records.Clinic, error) {
	c, err := scanClinic(s.db.QueryRowContext(ctx, `select `+clinicColumns+` from clinics where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return records.Clinic{}, records.ErrNotFound
	}
	return c, err
}

func (s *Store) CreateClinic(ctx context.Context, in records.ClinicInput) (records.Clinic, error) {
	if err := in.Validate(); err != nil {
		return records.Clinic{}, err
	}
	c, err := scanClinic(s.db.QueryRowContext(ctx, `
		insert into clinics (name, address, phone, email)
		values ($1, $2, $3, $4)
		returning `+clinicColumns,
		in.Name, nullIfEmpty(in.Address), nullIfEmpty(in.Phone), nullIfEmpty(in.Email)))
	if err != nil {
		return records.Clinic{}, recordsError(err)
	}
	return c, nil
}

func (s *Store) UpdateClinic(ctx context.Context, id int64, patch records.ClinicPatch) (records.Clinic, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return records.Clinic{}, err
	}
	defer func() { _ = tx.Rollback() }()

	c, err := scanClinic(tx.QueryRowContext(ctx, `select `+clinicColumns+` from clinics where id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return records.Clinic{}, records.ErrNotFound
	}
	if err != nil {
		return records.Clinic{}, err
	}
	if err := patch.Apply(&c); err != nil {
		return records.Clinic{}, err
	}
	if err := tx.QueryRowContext(ctx, `
		update clinics
		set name = $2, address = $3, phone = $4, email = $5, is_active = $6, updated_at = now()
		where id = $1
		returning updated_at
	`, id, c.Name, nullIfEmpty(c.Address), nullIfEmpty(c.Phone), nullIfEmpty(c.Email), c.Active).Scan(&c.UpdatedAt); err != nil {
		return records.Clinic{}, recordsError(err)
	}
	if err := tx.Commit(); err != nil {
		return records.Clinic{}, err
	}
	return c, nil
}

func (s *Store) DeactivateClinic(ctx context.Context, id int64) (records.Clinic, error) {
	c, err := scanClinic(s.db.QueryRowContext(ctx, `
		update clinics set is_active = false, updated_at = now()
		where id = $1
		returning `+clinicColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return records.Clinic{}, records.ErrNotFound
	}
	return c, err
}

const patientColumns = `id, patient_id, first_name, last_name, date_of_birth, gender, phone, email, address,
	emergency_contact, emergency_phone, medical_notes, clinic_id, is_active, created_at, updated_at`

func scanPatient(row rowScanner) (records.Patient, error) {
	var (
		p                             records.Patient
		dob                           sql.NullTime
		gender, phone, email, address sql.NullString
		emContact, emPhone, notes     sql.NullString
		clinicID                      sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.PatientID, &p.FirstName, &p.LastName, &dob, &gender, &phone, &email, &address,
		&emContact, &emPhone, &notes, &clinicID, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return records.Patient{}, err
	}
	if dob.Valid {
		d := records.Date{Time: dob.Time.UTC()}
		p.DateOfBirth = &d
	}
	p.Gender, p.Phone, p.Email, p.Address = gender.String, phone.String, email.String, address.String
	p.EmergencyContact, p.EmergencyPhone, p.MedicalNotes = emContact.String, emPhone.String, notes.String
	if clinicID.Valid {
		id := clinicID.Int64
		p.ClinicID = &id
	}
	return p, nil
}

func patientArgs(p records.Patient) []any {
	var dob sql.NullTime
	if p.DateOfBirth != nil {
		dob = sql.NullTime{Time: p.DateOfBirth.Time, Valid: true}
	}
	return []any{
		p.PatientID, p.FirstName, p.LastName, dob,
		nullIfEmpty(p.Gender), nullIfEmpty(p.Phone), nullIfEmpty(p.Email), nullIfEmpty(p.Address),
		nullIfEmpty(p.EmergencyContact), nullIfEmpty(p.EmergencyPhone), nullIfEmpty(p.MedicalNotes),
		nullInt64(p.ClinicID), p.Active,
	}
}

func (s *Store) ListPatients(ctx context.Context, page records.Page) ([]records.Patient, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx, `
		select `+patientColumns+`
		from patients
		order by id
		offset $1 limit $2
	`, page.Skip, page.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []records.Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPatient(ctx context.Context, id int64) (records.Patient, error) {
	p, err := scanPatient(s.db.QueryRowContext(ctx, `select `+patientColumns+` from patients where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return records.Patient{}, records.ErrNotFound
	}
	return p, err
}

func (s *Store) CreatePatient(ctx context.Context, in records.PatientInput) (records.Patient, error) {
	if err := in.Validate(); err != nil {
		return records.Patient{}, err
	}
	p, err := scanPatient(s.db.QueryRowContext(ctx, `
		insert into patients (patient_id, first_name, last_name, date_of_birth, gender, phone, email, address,
			emergency_contact, emergency_phone, medical_notes, clinic_id, is_active)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		returning `+patientColumns,
		patientArgs(in.Patient())...))
	if err != nil {
		return records.Patient{}, recordsError(err)
	}
	return p, nil
}

func (s *Store) UpdatePatient(ctx context.Context, id int64, patch records.PatientPatch) (records.Patient, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return records.Patient{}, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanPatient(tx.QueryRowContext(ctx, `select `+patientColumns+` from patients where id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return records.Patient{}, records.ErrNotFound
	}
	if err != nil {
		return records.Patient{}, err
	}
	if err := patch.Apply(&p); err != nil {
		return records.Patient{}, err
	}
	args := append([]any{id}, patientArgs(p)...)
	if err := tx.QueryRowContext(ctx, `
		update patients
		set patient_id = $2, first_name = $3, last_name = $4, date_of_birth = $5, gender = $6, phone = $7,
			email = $8, address = $9, emergency_contact = $10, emergency_phone = $11, medical_notes = $12,
			clinic_id = $13, is_active = $14, updated_at = now()
		where id = $1
		returning updated_at
	`, args...).Scan(&p.UpdatedAt); err != nil {
		return records.Patient{}, recordsError(err)
	}
	if err := tx.Commit(); err != nil {
		return records.Patient{}, err
	}
	return p, nil
}

func (s *Store) DeactivatePatient(ctx context.Context, id int64) (records.Patient, error) {
	p, err := scanPatient(s.db.QueryRowContext(ctx, `
		update patients set is_active = false, updated_at = now()
		where id = $1
		returning `+patientColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return records.Patient{}, records.ErrNotFound
	}
	return p, err
}

const transmissionColumns = `id, transmission_id, patient_id, device_type, device_serial, transmission_type,
	heart_rate_avg, heart_rate_min, heart_rate_max, battery_level, impedance, arrhythmia_detected,
	alert_level, raw_data, notes, processed, created_at, updated_at`

func scanTransmission(row rowScanner) (records.Transmission, error) {
	var (
		t                           records.Transmission
		serial, notes               sql.NullString
		avg, hrMin, hrMax, bat, imp sql.NullFloat64
		raw                         []byte
	)
	if err := row.Scan(&t.ID, &t.TransmissionID, &t.PatientID, &t.DeviceType, &serial, &t.TransmissionType,
		&avg, &hrMin, &hrMax, &bat, &imp, &t.ArrhythmiaDetected,
		&t.AlertLevel, &raw, &notes, &t.Processed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return records.Transmission{}, err
	}
	t.DeviceSerial, t.Notes = serial.String, notes.String
	t.HeartRateAvg, t.HeartRateMin, t.HeartRateMax = floatPtr(avg), floatPtr(hrMin), floatPtr(hrMax)
	t.BatteryLevel, t.Impedance = floatPtr(bat), floatPtr(imp)
	if len(raw) > 0 {
		t.RawData = append([]byte(nil), raw...)
	}
	return t, nil
}

func transmissionArgs(t records.Transmission) []any {
	var raw sql.NullString
	if len(t.RawData) > 0 {
		raw = sql.NullString{String: string(t.RawData), Valid: true}
	}
	return []any{
		t.TransmissionID, t.PatientID, t.DeviceType, nullIfEmpty(t.DeviceSerial), t.TransmissionType,
		nullFloat64(t.HeartRateAvg), nullFloat64(t.HeartRateMin), nullFloat64(t.HeartRateMax),
		nullFloat64(t.BatteryLevel), nullFloat64(t.Impedance), t.ArrhythmiaDetected,
		t.AlertLevel, raw, nullIfEmpty(t.Notes), t.Processed,
	}
}

func (s *Store) ListTransmissions(ctx context.Context, filter records.TransmissionFilter) ([]records.Transmission, error) {
	page := filter.Page.Normalize()
	rows, err := s.db.QueryContext(ctx, `
		select `+transmissionColumns+`
		from transmissions
		where ($1 = 0 or patient_id = $1)
		  and ($2 = '' or alert_level = $2)
		order by created_at desc, id desc
		offset $3 limit $4
	`, filter.PatientID, filter.AlertLevel, page.Skip, page.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []records.Transmission{}
	for rows.Next() {
		t, err := scanTransmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTransmission(ctx context.Context, id int64) (records.Transmission, error) {
	t, err := scanTransmission(s.db.QueryRowContext(ctx, `select `+transmissionColumns+` from transmissions where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return records.Transmission{}, records.ErrNotFound
	}
	return t, err
}

func (s *Store) CreateTransmission(ctx context.Context, in records.TransmissionInput) (records.Transmission, error) {
	t := in.Transmission()
	if err := t.Validate(); err != nil {
		return records.Transmission{}, err
	}
	created, err := scanTransmission(s.db.QueryRowContext(ctx, `
		insert into transmissions (transmission_id, patient_id, device_type, device_serial, transmission_type,
			heart_rate_avg, heart_rate_min, heart_rate_max, battery_level, impedance, arrhythmia_detected,
			alert_level, raw_data, notes, processed)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		returning `+transmissionColumns,
		transmissionArgs(t)...))
	if err != nil {
		return records.Transmission{}, recordsError(err)
	}
	return created, nil
}

func (s *Store) UpdateTransmission(ctx context.Context, id int64, patch records.TransmissionPatch) (records.Transmission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return records.Transmission{}, err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := scanTransmission(tx.QueryRowContext(ctx, `select `+transmissionColumns+` from transmissions where id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return records.Transmission{}, records.ErrNotFound
	}
	if err != nil {
		return records.Transmission{}, err
	}
	patch.Apply(&t)
	if err := t.Validate(); err != nil {
		return records.Transmission{}, err
	}
	args := append([]any{id}, transmissionArgs(t)...)
	if err := tx.QueryRowContext(ctx, `
		update transmissions
		set transmission_id = $2, patient_id = $3, device_type = $4, device_serial = $5, transmission_type = $6,
			heart_rate_avg = $7, heart_rate_min = $8, heart_rate_max = $9, battery_level = $10, impedance = $11,
			arrhythmia_detected = $12, alert_level = $13, raw_data = $14, notes = $15, processed = $16,
			updated_at = now()
		where id = $1
		returning updated_at
	`, args...).Scan(&t.UpdatedAt); err != nil {
		return records.Transmission{}, recordsError(err)
	}
	if err := tx.Commit(); err != nil {
		return records.Transmission{}, err
	}
	return t, nil
}

func (s *Store) DashboardStats(ctx context.Context, now time.Time) (records.DashboardStats, error) {
	since := records.StartOfDay(now)
	var stats records.DashboardStats
	if err := s.db.QueryRowContext(ctx, `
		select
			(select count(*) from patients where is_active),
			(select count(distinct device_serial) from transmissions where coalesce(device_serial, '') <> ''),
			(select count(*) from transmissions where created_at >= $1 and alert_level in ('warning', 'critical')),
			(select count(*) from transmissions where created_at >= $1),
			(select count(*) from transmissions where alert_level = 'critical')
	`, since).Scan(&stats.TotalPatients, &stats.ActiveDevices, &stats.AlertsToday, &stats.TransmissionsToday, &stats.CriticalAlerts); err != nil {
		return records.DashboardStats{}, fmt.Errorf("dashboard counts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `select device_type, count(*) from transmissions group by device_type`)
	if err != nil {
		return records.DashboardStats{}, fmt.Errorf("device distribution: %w", err)
	}
	defer rows.Close()

	stats.DeviceTypes = make(map[string]int)
	for _, d := range records.DeviceTypes() {
		stats.DeviceTypes[d] = 0
	}
	for rows.Next() {
		var (
			device string
			n      int
		)
		if err := rows.Scan(&device, &n); err != nil {
			return records.DashboardStats{}, err
		}
		if _, ok := stats.DeviceTypes[device]; ok {
			stats.DeviceTypes[device] = n
		}
	}
	return stats, rows.Err()
}
