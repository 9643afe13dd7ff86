// Package audit defines the security event log consumed by the rest of the
// Worklane platform. The subsystem only ever writes events; querying and
// retention are the platform's concern.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event represents a structured security event record.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`     // e.g. "auth.login.success"
	ActorID   string    `json:"actor_id"` // account id when known, else the asserted identifier
	Status    string    `json:"status"`   // "success", "failure", "blocked"
	Message   string    `json:"message"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink persists audit events.
type Sink interface {
	SaveEvent(ctx context.Context, event *Event) error
}

// Authentication event types.
const (
	EventLoginSuccess   = "auth.login.success"
	EventLoginFailure   = "auth.login.failure"
	EventLoginBlocked   = "auth.login.blocked"
	EventMFAChallenge   = "auth.mfa.challenge"
	EventMFASuccess     = "auth.mfa.success"
	EventMFAFailure     = "auth.mfa.failure"
	EventMFAEnabled     = "auth.mfa.enabled"
	EventMFADisabled    = "auth.mfa.disabled"
	EventDeviceTrusted  = "auth.device.trusted"
	EventDeviceRevoked  = "auth.device.revoked"
	EventDeviceBypass   = "auth.device.bypass"
)

// Recorder writes events to a sink on a best-effort basis. A failing sink
// must never change the outcome of an authentication operation, so write
// errors are logged locally and swallowed.
type Recorder struct {
	sink Sink
	log  *zap.Logger
}

func NewRecorder(sink Sink, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{sink: sink, log: log}
}

// Record persists the event, stamping CreatedAt if unset.
func (r *Recorder) Record(ctx context.Context, event *Event) {
	if r == nil || r.sink == nil || event == nil {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := r.sink.SaveEvent(ctx, event); err != nil {
		r.log.Warn("audit sink write failed",
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}
}

// ZapSink writes audit events to the application log. Useful in development
// and as a fallback when no database sink is configured.
type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	return &ZapSink{log: log}
}

func (s *ZapSink) SaveEvent(_ context.Context, event *Event) error {
	s.log.Info("audit",
		zap.String("type", event.Type),
		zap.String("actor_id", event.ActorID),
		zap.String("status", event.Status),
		zap.String("ip", event.IPAddress),
		zap.String("user_agent", event.UserAgent),
	)
	return nil
}
