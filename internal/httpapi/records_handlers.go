package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"cardiavue.org/internal/auth"
	"cardiavue.org/internal/records"
)

// --- clinics ---

func (a *API) listClinics(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	out, err := a.records.ListClinics(r.Context(), page)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (a *API) getClinic(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := a.records.GetClinic(r.Context(), id)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) createClinic(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var in records.ClinicInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.records.CreateClinic(r.Context(), in)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	a.audit(r, p, "clinic.create", map[string]any{"clinic_id": c.ID})
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) updateClinic(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch records.ClinicPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.records.UpdateClinic(r.Context(), id, patch)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	a.audit(r, p, "clinic.update", map[string]any{"clinic_id": c.ID})
	writeJSON(w, http.StatusOK, c)
}

func (a *API) deleteClinic(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := a.records.DeactivateClinic(r.Context(), id)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	a.audit(r, p, "clinic.delete", map[string]any{"clinic_id": c.ID})
	writeJSON(w, http.StatusOK, c)
}

// --- patients ---

func (a *API) listPatients(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	out, err := a.records.ListPatients(r.Context(), page)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (a *API) getPatient(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	pt, err := a.records.GetPatient(r.Context(), id)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pt)
}

func (a *API) createPatient(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var in records.PatientInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pt, err := a.records.CreatePatient(r.Context(), in)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	a.audit(r, p, "patient.create", map[string]any{"patient_id": pt.ID})
	writeJSON(w, http.StatusCreated, pt)
}

func (a *API) updatePatient(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch records.PatientPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pt, err := a.records.UpdatePatient(r.Context(), id, patch)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	a.audit(r, p, "patient.update", map[string]any{"patient_id": pt.ID})
	writeJSON(w, http.StatusOK, pt)
}

func (a *API) deletePatient(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	pt, err := a.records.DeactivatePatient(r.Context(), id)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	a.audit(r, p, "patient.delete", map[string]any{"patient_id": pt.ID})
	writeJSON(w, http.StatusOK, pt)
}

// --- transmissions ---

func (a *API) listTransmissions(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter := records.TransmissionFilter{Page: page}
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("patient_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, r, http.StatusBadRequest, "patient_id must be a positive integer")
			return
		}
		filter.PatientID = id
	}
	if level := strings.TrimSpace(q.Get("alert_level")); level != "" {
		if !records.ValidAlertLevel(level) {
			writeError(w, r, http.StatusBadRequest, "alert_level must be one of normal, warning, critical")
			return
		}
		filter.AlertLevel = level
	}
	out, err := a.records.ListTransmissions(r.Context(), filter)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (a *API) getTransmission(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := a.records.GetTransmission(r.Context(), id)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) createTransmission(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var in records.TransmissionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	t, err := a.records.CreateTransmission(r.Context(), in)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	a.audit(r, p, "transmission.create", map[string]any{"transmission_id": t.TransmissionID, "alert_level": t.AlertLevel})
	a.publishAlert(t)
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) updateTransmission(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var patch records.TransmissionPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	t, err := a.records.UpdateTransmission(r.Context(), id, patch)
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	a.audit(r, p, "transmission.update", map[string]any{"transmission_id": t.TransmissionID})
	a.publishAlert(t)
	writeJSON(w, http.StatusOK, t)
}

func (a *API) dashboardStats(w http.ResponseWriter, r *http.Request, _ auth.Principal) {
	stats, err := a.records.DashboardStats(r.Context(), a.now())
	if err != nil {
		a.handleRecordsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- helpers ---

func parsePage(r *http.Request) (records.Page, error) {
	q := r.URL.Query()
	skip, err := parseIntParam("skip", q.Get("skip"), 0, 0, math.MaxInt32)
	if err != nil {
		return records.Page{}, err
	}
	limit, err := parseIntParam("limit", q.Get("limit"), records.DefaultLimit, 1, records.MaxLimit)
	if err != nil {
		return records.Page{}, err
	}
	return records.Page{Skip: skip, Limit: limit}, nil
}

func parseIntParam(name, raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if val < min || val > max {
		return 0, fmt.Errorf("%s must be between %d and %d", name, min, max)
	}
	return val, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func (a *API) handleRecordsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, records.ErrInvalidInput):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, records.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, records.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		a.logger.ErrorContext(r.Context(), "records operation failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
