package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"cardiavue.org/internal/auth"
	"cardiavue.org/internal/obs"
	"cardiavue.org/internal/records"
	"cardiavue.org/internal/stream"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	clock   *testClock
	users   *auth.MemoryStore
	records *records.InMemory
	metrics *obs.Metrics
	alerts  *stream.Stream
}

var testUsers = []auth.NewUser{
	{Username: "admin", Password: "admin123", Role: "admin"},
	{Username: "doctor1", Password: "password123", Role: "doctor"},
	{Username: "nurse1", Password: "password123", Role: "nurse"},
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	users := auth.NewMemoryStore()
	hasher := auth.NewHasher(bcrypt.MinCost)
	for _, u := range testUsers {
		if _, err := auth.RegisterUser(context.Background(), users, hasher, u); err != nil {
			t.Fatalf("register %s: %v", u.Username, err)
		}
	}
	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret: []byte("test-secret"),
		TTL:    30 * time.Minute,
		Issuer: "cardiavue-test",
		Now:    clock.Now,
	})
	if err != nil {
		t.Fatalf("token codec: %v", err)
	}
	recs := records.NewInMemory().WithClock(clock.Now)
	metrics := obs.NewMetrics()
	policy := auth.DefaultPolicy()
	resolver := auth.NewResolver(codec, users, time.Second)
	alerts := stream.New()

	api := New(Deps{
		Authenticator: auth.NewAuthenticator(users, hasher, codec, time.Second),
		Gate: auth.NewGate(resolver, policy, func(res auth.Resource, act auth.Action, outcome string) {
			metrics.ObserveDecision(string(res), string(act), outcome)
		}),
		Policy:          policy,
		Records:         recs,
		Alerts:          alerts,
		Ready:           ReadyProbe{Store: recs},
		Metrics:         metrics,
		Version:         "test",
		LoginRatePerSec: 100,
		LoginRateBurst:  100,
		StreamHeartbeat: 20 * time.Millisecond,
		Now:             clock.Now,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		clock:   clock,
		users:   users,
		records: recs,
		metrics: metrics,
		alerts:  alerts,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func (c *apiClient) login(user, password string) string {
	c.t.Helper()
	resp := c.post("/api/auth/login", map[string]string{"username": user, "password": password}, nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.t.Fatalf("unexpected login status for %s: %d", user, resp.StatusCode)
	}
	payload := decode[loginResponse](c.t, resp)
	if payload.AccessToken == "" || payload.TokenType != "bearer" {
		c.t.Fatalf("unexpected login payload %+v", payload)
	}
	return payload.AccessToken
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (c *apiClient) seedClinic(name string) records.Clinic {
	c.t.Helper()
	clinic, err := c.records.CreateClinic(context.Background(), records.ClinicInput{Name: name})
	if err != nil {
		c.t.Fatalf("seed clinic: %v", err)
	}
	return clinic
}

func TestRoleScenario(t *testing.T) {
	c := newTestAPI(t)
	clinic := c.seedClinic("CardiaVue Medical Center")
	clinicPath := "/api/clinics/" + strconv.FormatInt(clinic.ID, 10)

	admin := c.login("admin", "admin123")
	resp := c.do(http.MethodDelete, clinicPath, nil, bearer(admin))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin delete: expected 200, got %d", resp.StatusCode)
	}
	deleted := decode[records.Clinic](t, resp)
	if deleted.Active {
		t.Fatalf("expected clinic to be deactivated")
	}

	doctor := c.login("doctor1", "password123")
	resp = c.do(http.MethodDelete, clinicPath, nil, bearer(doctor))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("doctor delete: expected 403, got %d", resp.StatusCode)
	}
	body := decode[map[string]string](t, resp)
	if body["error"] != "not enough permissions to delete clinic" || body["request_id"] == "" {
		t.Fatalf("unexpected forbidden body %v", body)
	}

	nurse := c.login("nurse1", "password123")
	resp = c.get("/api/patients/", nil, bearer(nurse))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("nurse list patients: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	c.clock.Advance(31 * time.Minute)
	resp = c.get("/api/patients/", nil, bearer(nurse))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expired token: expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("expected WWW-Authenticate header on 401")
	}
	resp.Body.Close()
}

func TestLoginFailuresLookAlike(t *testing.T) {
	c := newTestAPI(t)
	if err := c.users.SetActive(context.Background(), "nurse1", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	cases := []map[string]string{
		{"username": "admin", "password": "wrong"},
		{"username": "ghost", "password": "admin123"},
		{"username": "nurse1", "password": "password123"},
		{"username": "Admin", "password": "admin123"},
	}
	var first string
	for i, creds := range cases {
		resp := c.post("/api/auth/login", creds, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("case %d: expected 401, got %d", i, resp.StatusCode)
		}
		if resp.Header.Get("WWW-Authenticate") != "Bearer" {
			t.Fatalf("case %d: expected WWW-Authenticate header", i)
		}
		body := decode[map[string]string](t, resp)
		if i == 0 {
			first = body["error"]
		}
		if body["error"] != first {
			t.Fatalf("case %d: error message %q differs from %q", i, body["error"], first)
		}
	}
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	c := newTestAPI(t)
	resp := c.post("/api/auth/login", map[string]any{"username": "admin", "password": "admin123", "roles": []string{"admin"}}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown fields, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/api/auth/login", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMeLogoutAndPolicy(t *testing.T) {
	c := newTestAPI(t)
	token := c.login("doctor1", "password123")

	resp := c.get("/api/auth/me", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", resp.StatusCode)
	}
	me := decode[map[string]any](t, resp)
	if me["username"] != "doctor1" || me["role"] != "doctor" || me["is_active"] != true {
		t.Fatalf("unexpected profile %v", me)
	}
	if _, leaked := me["password_hash"]; leaked {
		t.Fatalf("profile leaks password hash")
	}

	resp = c.get("/api/auth/me", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me without token: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/api/policy", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("policy: expected 200, got %d", resp.StatusCode)
	}
	grants := decode[grantsResponse](t, resp)
	if grants.Role != auth.RoleDoctor || len(grants.Grants) == 0 {
		t.Fatalf("unexpected grants %+v", grants)
	}
	for _, g := range grants.Grants {
		if g.Role != auth.RoleDoctor {
			t.Fatalf("grant for another role leaked: %+v", g)
		}
		if g.Resource == auth.ResourceClinic && g.Action == auth.ActionDelete {
			t.Fatalf("doctor must not be able to delete clinics")
		}
	}

	resp = c.post("/api/auth/logout", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", resp.StatusCode)
	}
	if msg := decode[map[string]string](t, resp)["message"]; msg != "Successfully logged out" {
		t.Fatalf("unexpected logout message %q", msg)
	}
}

func TestDeactivatedPrincipalLosesAccess(t *testing.T) {
	c := newTestAPI(t)
	token := c.login("doctor1", "password123")

	resp := c.get("/api/clinics/", nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 before deactivation, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	if err := c.users.SetActive(context.Background(), "doctor1", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	resp = c.get("/api/clinics/", nil, bearer(token))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after deactivation, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMalformedAuthorizationHeaders(t *testing.T) {
	c := newTestAPI(t)
	token := c.login("admin", "admin123")

	for _, header := range []string{"", "Bearer", "Bearer ", "Basic " + token, token, "Bearer not.a.token"} {
		resp := c.get("/api/clinics/", nil, map[string]string{"Authorization": header})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, resp.StatusCode)
		}
		body := decode[map[string]string](t, resp)
		if body["error"] != msgUnauthenticated {
			t.Fatalf("header %q: unexpected message %q", header, body["error"])
		}
	}

	resp := c.get("/api/clinics/", nil, map[string]string{"Authorization": "bearer " + token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lower-case scheme: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPatientAndTransmissionFlow(t *testing.T) {
	c := newTestAPI(t)
	clinic := c.seedClinic("Heart Care Institute")
	doctor := bearer(c.login("doctor1", "password123"))
	nurse := bearer(c.login("nurse1", "password123"))

	resp := c.post("/api/patients/", map[string]any{
		"patient_id":    "P001",
		"first_name":    "John",
		"last_name":     "Doe",
		"date_of_birth": "1970-05-15",
		"clinic_id":     clinic.ID,
	}, doctor)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create patient: expected 201, got %d", resp.StatusCode)
	}
	patient := decode[records.Patient](t, resp)

	resp = c.post("/api/patients/", map[string]any{"patient_id": "P001", "first_name": "Jane", "last_name": "Roe"}, doctor)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate MRN: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/api/patients/"+strconv.FormatInt(patient.ID, 10), nil, nurse)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("nurse delete patient: expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	for i, level := range []string{"normal", "critical"} {
		resp = c.post("/api/transmissions/", map[string]any{
			"patient_id":  patient.ID,
			"device_type": "icd",
			"alert_level": level,
			"raw_data":    map[string]any{"lead": "RV"},
		}, nurse)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create transmission %d: expected 201, got %d", i, resp.StatusCode)
		}
		resp.Body.Close()
		c.clock.Advance(time.Minute)
	}

	resp = c.post("/api/transmissions/", map[string]any{"patient_id": patient.ID, "device_type": "toaster"}, nurse)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid device type: expected 422, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/api/transmissions/", url.Values{"alert_level": {"critical"}}, nurse)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list transmissions: expected 200, got %d", resp.StatusCode)
	}
	txs := decode[[]records.Transmission](t, resp)
	if len(txs) != 1 || txs[0].AlertLevel != "critical" || txs[0].TransmissionID == "" {
		t.Fatalf("unexpected filtered transmissions %+v", txs)
	}

	resp = c.get("/api/transmissions/", url.Values{"alert_level": {"panic"}}, nurse)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid alert filter: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPut, "/api/transmissions/"+strconv.FormatInt(txs[0].ID, 10), map[string]any{"processed": true}, nurse)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update transmission: expected 200, got %d", resp.StatusCode)
	}
	if updated := decode[records.Transmission](t, resp); !updated.Processed {
		t.Fatalf("expected processed transmission")
	}

	resp = c.do(http.MethodDelete, "/api/transmissions/"+strconv.FormatInt(txs[0].ID, 10), nil, bearer(c.login("admin", "admin123")))
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("delete transmission: expected 405, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/api/transmissions/stats/dashboard", nil, nurse)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard: expected 200, got %d", resp.StatusCode)
	}
	stats := decode[records.DashboardStats](t, resp)
	if stats.TotalPatients != 1 || stats.TransmissionsToday != 2 || stats.CriticalAlerts != 1 || stats.DeviceTypes["icd"] != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRecordsErrorsMapToStatus(t *testing.T) {
	c := newTestAPI(t)
	admin := bearer(c.login("admin", "admin123"))

	resp := c.get("/api/clinics/999", nil, admin)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing clinic: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/api/clinics/abc", nil, admin)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/api/clinics/", url.Values{"limit": {"0"}}, admin)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/api/clinics/", map[string]any{"name": "  "}, admin)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("blank name: expected 422, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

type unavailableGate struct{}

func (unavailableGate) Check(context.Context, string, auth.Resource, auth.Action) (auth.Principal, error) {
	return auth.Principal{}, errors.Join(auth.ErrUnavailable, errors.New("connection refused"))
}

func (unavailableGate) Authenticate(context.Context, string) (auth.Principal, error) {
	return auth.Principal{}, errors.Join(auth.ErrUnavailable, errors.New("connection refused"))
}

func TestStoreOutageIsNotAnAuthFailure(t *testing.T) {
	api := New(Deps{Gate: unavailableGate{}, Records: records.NewInMemory()})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/patients/", nil)
	req.Header.Set("Authorization", "Bearer x.y.z")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" || resp.Header.Get("WWW-Authenticate") != "" {
		t.Fatalf("unexpected headers %v", resp.Header)
	}
	body := decode[map[string]string](t, resp)
	if body["error"] != "service temporarily unavailable" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHealthEndpoints(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", resp.StatusCode)
	}
	if h := decode[map[string]string](t, resp); h["status"] != "ok" || h["version"] != "test" {
		t.Fatalf("unexpected healthz %v", h)
	}

	resp = c.get("/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/info", nil, nil)
	if info := decode[map[string]string](t, resp); info["time"] != "2026-03-14T09:00:00Z" {
		t.Fatalf("unexpected info %v", info)
	}

	resp = c.get("/metrics", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func TestReadyReportsStoreFailure(t *testing.T) {
	api := New(Deps{Ready: ReadyProbe{Store: failingPinger{}}})
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("db down")) {
		t.Fatalf("readiness body leaks internal error: %s", rr.Body.String())
	}
}
