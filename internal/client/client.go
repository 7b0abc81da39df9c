// Package client is a typed HTTP client for the CardiaVue API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cardiavue.org/internal/auth"
	"cardiavue.org/internal/records"
)

var (
	ErrUnauthorized = errors.New("client: unauthorized")
	ErrForbidden    = errors.New("client: forbidden")
	ErrNotFound     = errors.New("client: not found")
	ErrUnavailable  = errors.New("client: service unavailable")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code      int
	Message   string
	RequestID string
}

func (e *StatusError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("http %d: %s (request_id=%s)", e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

// Unwrap maps well-known status codes to sentinel errors.
func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	default:
		return nil
	}
}

// Session is the login response.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Client talks to one API base URL. It is not safe to change the token
// concurrently with requests.
type Client struct {
	base  string
	http  *http.Client
	token string
}

// New creates a client. A nil httpClient uses a 10s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// WithToken returns a copy of c that sends token as its bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Token returns the bearer token in use.
func (c *Client) Token() string { return c.token }

// Login authenticates and stores the issued token on c.
func (c *Client) Login(ctx context.Context, username, password string) (Session, error) {
	var sess Session
	err := c.do(ctx, http.MethodPost, "/api/auth/login", nil,
		map[string]string{"username": username, "password": password}, &sess)
	if err != nil {
		return Session{}, err
	}
	c.token = sess.AccessToken
	return sess, nil
}

// Logout tells the server the session ended and forgets the token locally.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, nil)
	c.token = ""
	return err
}

func (c *Client) Me(ctx context.Context) (auth.Principal, error) {
	var p auth.Principal
	err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &p)
	return p, err
}

// Grants lists what the caller's role may do.
func (c *Client) Grants(ctx context.Context) ([]auth.Grant, error) {
	var out struct {
		Grants []auth.Grant `json:"grants"`
	}
	err := c.do(ctx, http.MethodGet, "/api/policy", nil, nil, &out)
	return out.Grants, err
}

func (c *Client) ListClinics(ctx context.Context, page records.Page) ([]records.Clinic, error) {
	var out []records.Clinic
	err := c.do(ctx, http.MethodGet, "/api/clinics/", pageQuery(page), nil, &out)
	return out, err
}

func (c *Client) CreateClinic(ctx context.Context, in records.ClinicInput) (records.Clinic, error) {
	var out records.Clinic
	err := c.do(ctx, http.MethodPost, "/api/clinics/", nil, in, &out)
	return out, err
}

// DeleteClinic deactivates a clinic and returns its final state.
func (c *Client) DeleteClinic(ctx context.Context, id int64) (records.Clinic, error) {
	var out records.Clinic
	err := c.do(ctx, http.MethodDelete, "/api/clinics/"+strconv.FormatInt(id, 10), nil, nil, &out)
	return out, err
}

func (c *Client) ListPatients(ctx context.Context, page records.Page) ([]records.Patient, error) {
	var out []records.Patient
	err := c.do(ctx, http.MethodGet, "/api/patients/", pageQuery(page), nil, &out)
	return out, err
}

func (c *Client) ListTransmissions(ctx context.Context, filter records.TransmissionFilter) ([]records.Transmission, error) {
	q := pageQuery(filter.Page)
	if filter.PatientID > 0 {
		q.Set("patient_id", strconv.FormatInt(filter.PatientID, 10))
	}
	if filter.AlertLevel != "" {
		q.Set("alert_level", filter.AlertLevel)
	}
	var out []records.Transmission
	err := c.do(ctx, http.MethodGet, "/api/transmissions/", q, nil, &out)
	return out, err
}

func (c *Client) DashboardStats(ctx context.Context) (records.DashboardStats, error) {
	var out records.DashboardStats
	err := c.do(ctx, http.MethodGet, "/api/transmissions/stats/dashboard", nil, nil, &out)
	return out, err
}

// Ready reports whether /readyz answers 200.
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil, nil)
}

func pageQuery(p records.Page) url.Values {
	q := url.Values{}
	if p.Skip > 0 {
		q.Set("skip", strconv.Itoa(p.Skip))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	var payload struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
	}
	if payload.RequestID == "" {
		payload.RequestID = resp.Header.Get("X-Request-ID")
	}
	return &StatusError{Code: resp.StatusCode, Message: payload.Error, RequestID: payload.RequestID}
}

// WithTimeout returns a context with a default timeout useful for CLI tools.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
