package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"cardiavue.org/internal/auth"
	"cardiavue.org/internal/records"
	"cardiavue.org/internal/stream"
)

const defaultStreamHeartbeat = 15 * time.Second

func (a *API) publishAlert(t records.Transmission) {
	if a.alerts == nil {
		return
	}
	if evt, ok := stream.EventFor(t, a.now()); ok {
		a.alerts.Publish(evt)
	}
}

// streamAlerts serves warning and critical transmissions as Server-Sent Events.
// The bearer token is re-checked on every heartbeat and before every event, so the
// stream ends once the token expires or the principal loses access.
func (a *API) streamAlerts(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	if a.alerts == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	header := r.Header.Get("Authorization")
	stillAllowed := func() bool {
		_, err := a.gate.Check(r.Context(), header, auth.ResourceTransmission, auth.ActionRead)
		return err == nil
	}

	rc := http.NewResponseController(w)
	// Each frame gets its own deadline; the server write timeout would cut the stream.
	writeWindow := 2 * a.streamHeartbeat
	_ = rc.SetWriteDeadline(time.Now().Add(writeWindow))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := a.alerts.Subscribe(r.Context())
	defer a.logger.InfoContext(r.Context(), "alert stream closed",
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.String("username", p.Username))

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(a.streamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			if !stillAllowed() {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_ = rc.SetWriteDeadline(time.Now().Add(writeWindow))
			_, _ = w.Write([]byte("event: alert\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
		case <-heartbeat.C:
			if !stillAllowed() {
				return
			}
			_ = rc.SetWriteDeadline(time.Now().Add(writeWindow))
			_, _ = w.Write([]byte(": ping\n\n"))
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
