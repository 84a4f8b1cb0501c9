// Package audit keeps a trail of operator actions taken through the admin
// back-office: logins, forced expiries, resends and exports.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
)

type Action string

const (
	ActionAdminLogin  Action = "admin_login"
	ActionAdminLogout Action = "admin_logout"
	ActionExpire      Action = "expire_session"
	ActionResend      Action = "resend_otp"
	ActionExport      Action = "export_sessions"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

type Record struct {
	ID        string    `bson:"_id" json:"id"`
	Action    Action    `bson:"action" json:"action"`
	Actor     string    `bson:"actor" json:"actor"`
	SessionID string    `bson:"session_id,omitempty" json:"session_id,omitempty"`
	Target    string    `bson:"target,omitempty" json:"target,omitempty"`
	Outcome   Outcome   `bson:"outcome" json:"outcome"`
	Kind      string    `bson:"kind,omitempty" json:"kind,omitempty"`
	Message   string    `bson:"message,omitempty" json:"message,omitempty"`
	IP        string    `bson:"ip,omitempty" json:"ip,omitempty"`
	UserAgent string    `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Origin describes where an operator request came from.
type Origin struct {
	Actor     string
	IP        string
	UserAgent string
}

// New starts a record for action taken by origin. Outcome follows err.
func New(action Action, origin Origin, err error) Record {
	rec := Record{
		ID:        uuid.NewString(),
		Action:    action,
		Actor:     origin.Actor,
		Outcome:   OutcomeSuccess,
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		rec.Outcome = OutcomeFailure
		rec.Kind = string(failure.KindOf(err))
		if fe, ok := failure.As(err); ok {
			rec.Message = fe.Message
		}
	}
	return rec
}

type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Write records rec and logs instead of failing when the trail is unavailable.
func Write(ctx context.Context, recorder Recorder, logger zerolog.Logger, rec Record) {
	if recorder == nil {
		return
	}
	if err := recorder.Record(ctx, rec); err != nil {
		logger.Warn().Err(err).Str("action", string(rec.Action)).Msg("failed to write audit record")
	}
}
