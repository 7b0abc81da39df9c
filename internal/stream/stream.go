// Package stream fans transmission alerts out to live dashboard subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"cardiavue.org/internal/records"
)

const subscriberBuffer = 16

// AlertEvent announces a transmission that needs clinical attention.
type AlertEvent struct {
	ID                 int64     `json:"id"`
	TransmissionID     string    `json:"transmission_id"`
	PatientID          int64     `json:"patient_id"`
	DeviceType         string    `json:"device_type"`
	AlertLevel         string    `json:"alert_level"`
	ArrhythmiaDetected bool      `json:"arrhythmia_detected"`
	Timestamp          time.Time `json:"timestamp"`
}

// EventFor returns the alert for t, or false when t is at normal level.
func EventFor(t records.Transmission, at time.Time) (AlertEvent, bool) {
	if t.AlertLevel != records.AlertWarning && t.AlertLevel != records.AlertCritical {
		return AlertEvent{}, false
	}
	return AlertEvent{
		ID:                 t.ID,
		TransmissionID:     t.TransmissionID,
		PatientID:          t.PatientID,
		DeviceType:         t.DeviceType,
		AlertLevel:         t.AlertLevel,
		ArrhythmiaDetected: t.ArrhythmiaDetected,
		Timestamp:          at.UTC(),
	}, true
}

// Stream fans alert events out to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan AlertEvent
	next int
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan AlertEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan AlertEvent {
	ch := make(chan AlertEvent, subscriberBuffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fans the event out to all subscribers. Slow subscribers miss events.
func (s *Stream) Publish(evt AlertEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
