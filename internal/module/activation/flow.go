package activation

import (
	"time"

	"github.com/yothgewalt/discount-card-portal-server/internal/otp"
)

type State string

const (
	StateOpen      State = "open"
	StateVerifying State = "verifying"
	StateResending State = "resending"
	StateVerified  State = "verified"
	StateClosed    State = "closed"
)

type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Flow is one open activation modal held on the server. Generation changes
// whenever the code is reissued so late results for an older code are dropped.
type Flow struct {
	ID            string      `json:"id"`
	VisitorID     string      `json:"visitor_id"`
	SessionID     string      `json:"session_id"`
	Contact       Contact     `json:"contact"`
	Channel       otp.Type    `json:"channel"`
	Purpose       otp.Purpose `json:"purpose"`
	State         State       `json:"state"`
	Entry         Entry       `json:"entry"`
	Generation    int         `json:"generation"`
	Exhausted     bool        `json:"exhausted,omitempty"`
	CardExpiresAt *time.Time  `json:"card_expires_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Destination is the contact the code was sent to.
func (f *Flow) Destination() string {
	if f.Channel == otp.TypeSMS {
		return f.Contact.Phone
	}
	return f.Contact.Email
}

// horizon is the last instant anything about the flow can still be shown.
func (f *Flow) horizon() time.Time {
	end := f.Entry.ExpiresAt
	if f.CardExpiresAt != nil && f.CardExpiresAt.After(end) {
		end = *f.CardExpiresAt
	}
	return end
}

type View struct {
	ID               string      `json:"id"`
	SessionID        string      `json:"session_id"`
	State            State       `json:"state"`
	Channel          otp.Type    `json:"channel"`
	Purpose          otp.Purpose `json:"purpose"`
	Contact          string      `json:"contact"`
	Cells            []string    `json:"cells"`
	Focus            int         `json:"focus"`
	RemainingSeconds int         `json:"remaining_seconds"`
	ExpiresAt        time.Time   `json:"expires_at"`
	Expired          bool        `json:"expired"`
	Exhausted        bool        `json:"exhausted"`
	Busy             bool        `json:"busy"`
	Error            string      `json:"error,omitempty"`
	CanVerify        bool        `json:"can_verify"`
	CanResend        bool        `json:"can_resend"`
	Card             *CardView   `json:"card,omitempty"`
}

type CardView struct {
	Purpose          otp.Purpose `json:"purpose"`
	Holder           string      `json:"holder,omitempty"`
	Contact          string      `json:"contact"`
	ExpiresAt        time.Time   `json:"expires_at"`
	RemainingSeconds int         `json:"remaining_seconds"`
	Expired          bool        `json:"expired"`
}

func (f *Flow) card(now time.Time) *CardView {
	if f.State != StateVerified || f.CardExpiresAt == nil {
		return nil
	}
	return &CardView{
		Purpose:          f.Purpose,
		Holder:           f.Contact.Name,
		Contact:          otp.MaskContact(f.Destination()),
		ExpiresAt:        *f.CardExpiresAt,
		RemainingSeconds: otp.Remaining(*f.CardExpiresAt, now),
		Expired:          now.After(*f.CardExpiresAt),
	}
}

// reclaim reopens a flow left verifying or resending by a request that no
// longer holds the lock.
func (f *Flow) reclaim(locked bool) {
	if !locked && (f.State == StateVerifying || f.State == StateResending) {
		f.State = StateOpen
	}
}

// View renders the flow at now. Remaining time is recomputed on every call.
func (f *Flow) View(now time.Time, busy bool) *View {
	entry := f.Entry.clone()
	expired := entry.Expired(now)
	open := f.State == StateOpen && !busy

	return &View{
		ID:               f.ID,
		SessionID:        f.SessionID,
		State:            f.State,
		Channel:          f.Channel,
		Purpose:          f.Purpose,
		Contact:          otp.MaskContact(f.Destination()),
		Cells:            entry.Cells,
		Focus:            entry.Focus,
		RemainingSeconds: entry.Remaining(now),
		ExpiresAt:        entry.ExpiresAt,
		Expired:          expired,
		Exhausted:        f.Exhausted,
		Busy:             busy || f.State == StateVerifying || f.State == StateResending,
		Error:            entry.Error,
		CanVerify:        open && !expired && !f.Exhausted && entry.Complete(),
		CanResend:        open,
		Card:             f.card(now),
	}
}
