package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cardiavue.org/internal/ids"
)

var (
	ErrNotFound     = errors.New("records: not found")
	ErrInvalidInput = errors.New("records: invalid input")
	ErrConflict     = errors.New("records: already exists")
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Page is an offset window over a list.
type Page struct {
	Skip  int
	Limit int
}

// Normalize clamps the window: negative skip becomes 0, limit falls back to DefaultLimit.
func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

// Date is a calendar day encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	d.Time = t
	return nil
}

type Clinic struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ClinicInput struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

// ClinicPatch updates only the fields that are set.
type ClinicPatch struct {
	Name    *string `json:"name,omitempty"`
	Address *string `json:"address,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Email   *string `json:"email,omitempty"`
	Active  *bool   `json:"is_active,omitempty"`
}

func (in ClinicInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return nil
}

// Apply merges the patch into c.
func (p ClinicPatch) Apply(c *Clinic) error {
	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			return fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
		}
		c.Name = *p.Name
	}
	setString(&c.Address, p.Address)
	setString(&c.Phone, p.Phone)
	setString(&c.Email, p.Email)
	if p.Active != nil {
		c.Active = *p.Active
	}
	return nil
}

// Patient is identified internally by ID and clinically by PatientID (MRN).
type Patient struct {
	ID               int64     `json:"id"`
	PatientID        string    `json:"patient_id"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	DateOfBirth      *Date     `json:"date_of_birth,omitempty"`
	Gender           string    `json:"gender,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Email            string    `json:"email,omitempty"`
	Address          string    `json:"address,omitempty"`
	EmergencyContact string    `json:"emergency_contact,omitempty"`
	EmergencyPhone   string    `json:"emergency_phone,omitempty"`
	MedicalNotes     string    `json:"medical_notes,omitempty"`
	ClinicID         *int64    `json:"clinic_id,omitempty"`
	Active           bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type PatientInput struct {
	PatientID        string `json:"patient_id"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	DateOfBirth      *Date  `json:"date_of_birth,omitempty"`
	Gender           string `json:"gender,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Email            string `json:"email,omitempty"`
	Address          string `json:"address,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"`
	EmergencyPhone   string `json:"emergency_phone,omitempty"`
	MedicalNotes     string `json:"medical_notes,omitempty"`
	ClinicID         *int64 `json:"clinic_id,omitempty"`
}

type PatientPatch struct {
	PatientID        *string `json:"patient_id,omitempty"`
	FirstName        *string `json:"first_name,omitempty"`
	LastName         *string `json:"last_name,omitempty"`
	DateOfBirth      *Date   `json:"date_of_birth,omitempty"`
	Gender           *string `json:"gender,omitempty"`
	Phone            *string `json:"phone,omitempty"`
	Email            *string `json:"email,omitempty"`
	Address          *string `json:"address,omitempty"`
	EmergencyContact *string `json:"emergency_contact,omitempty"`
	EmergencyPhone   *string `json:"emergency_phone,omitempty"`
	MedicalNotes     *string `json:"medical_notes,omitempty"`
	ClinicID         *int64  `json:"clinic_id,omitempty"`
	Active           *bool   `json:"is_active,omitempty"`
}

func (in PatientInput) Validate() error {
	switch {
	case strings.TrimSpace(in.PatientID) == "":
		return fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	case strings.TrimSpace(in.FirstName) == "":
		return fmt.Errorf("%w: first_name is required", ErrInvalidInput)
	case strings.TrimSpace(in.LastName) == "":
		return fmt.Errorf("%w: last_name is required", ErrInvalidInput)
	}
	return nil
}

// Patient builds the stored shape of an input.
func (in PatientInput) Patient() Patient {
	return Patient{
		PatientID:        in.PatientID,
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		DateOfBirth:      in.DateOfBirth,
		Gender:           in.Gender,
		Phone:            in.Phone,
		Email:            in.Email,
		Address:          in.Address,
		EmergencyContact: in.EmergencyContact,
		EmergencyPhone:   in.EmergencyPhone,
		MedicalNotes:     in.MedicalNotes,
		ClinicID:         in.ClinicID,
		Active:           true,
	}
}

func (p PatientPatch) Apply(pt *Patient) error {
	for _, f := range []struct {
		name string
		val  *string
	}{{"patient_id", p.PatientID}, {"first_name", p.FirstName}, {"last_name", p.LastName}} {
		if f.val != nil && strings.TrimSpace(*f.val) == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalidInput, f.name)
		}
	}
	setString(&pt.PatientID, p.PatientID)
	setString(&pt.FirstName, p.FirstName)
	setString(&pt.LastName, p.LastName)
	if p.DateOfBirth != nil {
		dob := *p.DateOfBirth
		pt.DateOfBirth = &dob
	}
	setString(&pt.Gender, p.Gender)
	setString(&pt.Phone, p.Phone)
	setString(&pt.Email, p.Email)
	setString(&pt.Address, p.Address)
	setString(&pt.EmergencyContact, p.EmergencyContact)
	setString(&pt.EmergencyPhone, p.EmergencyPhone)
	setString(&pt.MedicalNotes, p.MedicalNotes)
	if p.ClinicID != nil {
		id := *p.ClinicID
		pt.ClinicID = &id
	}
	if p.Active != nil {
		pt.Active = *p.Active
	}
	return nil
}

const (
	DevicePacemaker = "pacemaker"
	DeviceICD       = "icd"
	DeviceCRT       = "crt"
	DeviceLoop      = "loop"

	TransmissionScheduled = "scheduled"
	TransmissionEmergency = "emergency"
	TransmissionFollowUp  = "follow_up"

	AlertNormal   = "normal"
	AlertWarning  = "warning"
	AlertCritical = "critical"
)

var (
	deviceTypes       = []string{DevicePacemaker, DeviceICD, DeviceCRT, DeviceLoop}
	transmissionTypes = []string{TransmissionScheduled, TransmissionEmergency, TransmissionFollowUp}
	alertLevels       = []string{AlertNormal, AlertWarning, AlertCritical}
)

// DeviceTypes lists the supported implanted device classes.
func DeviceTypes() []string { return append([]string(nil), deviceTypes...) }

func ValidAlertLevel(s string) bool { return oneOf(s, alertLevels) }

// Transmission is one remote-monitoring upload from an implanted device.
type Transmission struct {
	ID                 int64           `json:"id"`
	TransmissionID     string          `json:"transmission_id"`
	PatientID          int64           `json:"patient_id"`
	DeviceType         string          `json:"device_type"`
	DeviceSerial       string          `json:"device_serial,omitempty"`
	TransmissionType   string          `json:"transmission_type"`
	HeartRateAvg       *float64        `json:"heart_rate_avg,omitempty"`
	HeartRateMin       *float64        `json:"heart_rate_min,omitempty"`
	HeartRateMax       *float64        `json:"heart_rate_max,omitempty"`
	BatteryLevel       *float64        `json:"battery_level,omitempty"`
	Impedance          *float64        `json:"impedance,omitempty"`
	ArrhythmiaDetected bool            `json:"arrhythmia_detected"`
	AlertLevel         string          `json:"alert_level"`
	RawData            json.RawMessage `json:"raw_data,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	Processed          bool            `json:"processed"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type TransmissionInput struct {
	TransmissionID     string          `json:"transmission_id,omitempty"`
	PatientID          int64           `json:"patient_id"`
	DeviceType         string          `json:"device_type"`
	DeviceSerial       string          `json:"device_serial,omitempty"`
	TransmissionType   string          `json:"transmission_type,omitempty"`
	HeartRateAvg       *float64        `json:"heart_rate_avg,omitempty"`
	HeartRateMin       *float64        `json:"heart_rate_min,omitempty"`
	HeartRateMax       *float64        `json:"heart_rate_max,omitempty"`
	BatteryLevel       *float64        `json:"battery_level,omitempty"`
	Impedance          *float64        `json:"impedance,omitempty"`
	ArrhythmiaDetected bool            `json:"arrhythmia_detected"`
	AlertLevel         string          `json:"alert_level,omitempty"`
	RawData            json.RawMessage `json:"raw_data,omitempty"`
	Notes              string          `json:"notes,omitempty"`
}

type TransmissionPatch struct {
	TransmissionID     *string         `json:"transmission_id,omitempty"`
	PatientID          *int64          `json:"patient_id,omitempty"`
	DeviceType         *string         `json:"device_type,omitempty"`
	DeviceSerial       *string         `json:"device_serial,omitempty"`
	TransmissionType   *string         `json:"transmission_type,omitempty"`
	HeartRateAvg       *float64        `json:"heart_rate_avg,omitempty"`
	HeartRateMin       *float64        `json:"heart_rate_min,omitempty"`
	HeartRateMax       *float64        `json:"heart_rate_max,omitempty"`
	BatteryLevel       *float64        `json:"battery_level,omitempty"`
	Impedance          *float64        `json:"impedance,omitempty"`
	ArrhythmiaDetected *bool           `json:"arrhythmia_detected,omitempty"`
	AlertLevel         *string         `json:"alert_level,omitempty"`
	RawData            json.RawMessage `json:"raw_data,omitempty"`
	Notes              *string         `json:"notes,omitempty"`
	Processed          *bool           `json:"processed,omitempty"`
}

// Transmission fills defaults and returns the stored shape of an input.
// An empty TransmissionID gets a ULID.
func (in TransmissionInput) Transmission() Transmission {
	t := Transmission{
		TransmissionID:     strings.TrimSpace(in.TransmissionID),
		PatientID:          in.PatientID,
		DeviceType:         in.DeviceType,
		DeviceSerial:       in.DeviceSerial,
		TransmissionType:   in.TransmissionType,
		HeartRateAvg:       in.HeartRateAvg,
		HeartRateMin:       in.HeartRateMin,
		HeartRateMax:       in.HeartRateMax,
		BatteryLevel:       in.BatteryLevel,
		Impedance:          in.Impedance,
		ArrhythmiaDetected: in.ArrhythmiaDetected,
		AlertLevel:         in.AlertLevel,
		RawData:            in.RawData,
		Notes:              in.Notes,
	}
	if t.TransmissionID == "" {
		t.TransmissionID = "T" + ids.New()
	}
	if t.TransmissionType == "" {
		t.TransmissionType = TransmissionScheduled
	}
	if t.AlertLevel == "" {
		t.AlertLevel = AlertNormal
	}
	return t
}

func (p TransmissionPatch) Apply(t *Transmission) {
	setString(&t.TransmissionID, p.TransmissionID)
	if p.PatientID != nil {
		t.PatientID = *p.PatientID
	}
	setString(&t.DeviceType, p.DeviceType)
	setString(&t.DeviceSerial, p.DeviceSerial)
	setString(&t.TransmissionType, p.TransmissionType)
	setFloat(&t.HeartRateAvg, p.HeartRateAvg)
	setFloat(&t.HeartRateMin, p.HeartRateMin)
	setFloat(&t.HeartRateMax, p.HeartRateMax)
	setFloat(&t.BatteryLevel, p.BatteryLevel)
	setFloat(&t.Impedance, p.Impedance)
	if p.ArrhythmiaDetected != nil {
		t.ArrhythmiaDetected = *p.ArrhythmiaDetected
	}
	setString(&t.AlertLevel, p.AlertLevel)
	if len(p.RawData) > 0 {
		t.RawData = p.RawData
	}
	setString(&t.Notes, p.Notes)
	if p.Processed != nil {
		t.Processed = *p.Processed
	}
}

// Validate checks the enumerations and value ranges of a transmission.
func (t Transmission) Validate() error {
	switch {
	case strings.TrimSpace(t.TransmissionID) == "":
		return fmt.Errorf("%w: transmission_id must not be empty", ErrInvalidInput)
	case t.PatientID <= 0:
		return fmt.Errorf("%w: patient_id is required", ErrInvalidInput)
	case !oneOf(t.DeviceType, deviceTypes):
		return fmt.Errorf("%w: device_type must be one of %s", ErrInvalidInput, strings.Join(deviceTypes, ", "))
	case !oneOf(t.TransmissionType, transmissionTypes):
		return fmt.Errorf("%w: transmission_type must be one of %s", ErrInvalidInput, strings.Join(transmissionTypes, ", "))
	case !oneOf(t.AlertLevel, alertLevels):
		return fmt.Errorf("%w: alert_level must be one of %s", ErrInvalidInput, strings.Join(alertLevels, ", "))
	}
	if t.BatteryLevel != nil && (*t.BatteryLevel < 0 || *t.BatteryLevel > 100) {
		return fmt.Errorf("%w: battery_level must be within 0..100", ErrInvalidInput)
	}
	if t.HeartRateMin != nil && t.HeartRateMax != nil && *t.HeartRateMin > *t.HeartRateMax {
		return fmt.Errorf("%w: heart_rate_min exceeds heart_rate_max", ErrInvalidInput)
	}
	if len(t.RawData) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(t.RawData, &obj); err != nil || obj == nil {
			return fmt.Errorf("%w: raw_data must be a JSON object", ErrInvalidInput)
		}
	}
	return nil
}

// TransmissionFilter narrows a transmission listing. Zero values match everything.
type TransmissionFilter struct {
	PatientID  int64
	AlertLevel string
	Page
}

// DashboardStats summarises monitoring activity. JSON names follow the dashboard client.
type DashboardStats struct {
	TotalPatients      int            `json:"totalPatients"`
	ActiveDevices      int            `json:"activeDevices"`
	AlertsToday        int            `json:"alertsToday"`
	TransmissionsToday int            `json:"transmissionsToday"`
	CriticalAlerts     int            `json:"criticalAlerts"`
	DeviceTypes        map[string]int `json:"deviceTypes"`
}

func newDeviceCounts() map[string]int {
	m := make(map[string]int, len(deviceTypes))
	for _, d := range deviceTypes {
		m[d] = 0
	}
	return m
}

// StartOfDay truncates now to midnight in its own location.
func StartOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst **float64, v *float64) {
	if v != nil {
		f := *v
		*dst = &f
	}
}
