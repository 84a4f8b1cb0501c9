package otp

import (
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	TypeEmail Type = "email"
	TypeSMS   Type = "sms"
)

func (t Type) Valid() bool {
	return t == TypeEmail || t == TypeSMS
}

func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown otp type %q", s)
	}
	return t, nil
}

type Purpose string

const (
	PurposeCardActivation    Purpose = "card_activation"
	PurposeEmailVerification Purpose = "email_verification"
	PurposePhoneVerification Purpose = "phone_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeCardActivation, PurposeEmailVerification, PurposePhoneVerification, PurposePasswordReset:
		return true
	}
	return false
}

func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown otp purpose %q", s)
	}
	return p, nil
}

type Status string

const (
	StatusVerified Status = "verified"
	StatusPending  Status = "pending"
	StatusExpired  Status = "expired"
)

func (s Status) Valid() bool {
	return s == StatusVerified || s == StatusPending || s == StatusExpired
}

// Session is the backend's OTP session record as the portal reads it.
type Session struct {
	SessionID            string    `json:"sessionId"`
	UserID               string    `json:"userId"`
	UserName             string    `json:"userName"`
	UserEmail            string    `json:"userEmail"`
	OTPType              Type      `json:"otpType"`
	Purpose              Purpose   `json:"purpose"`
	ContactInfo          string    `json:"contactInfo"`
	OTPCode              string    `json:"otpCode,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	ExpiresAt            time.Time `json:"expiresAt"`
	VerificationAttempts int       `json:"verificationAttempts"`
	MaxAttempts          int       `json:"maxAttempts"`
	ResendCount          int       `json:"resendCount"`
	MaxResends           int       `json:"maxResends"`
	IsVerified           bool      `json:"isVerified"`
	ExpiredByOperator    bool      `json:"expiredByOperator,omitempty"`
}

// DerivedStatus is computed on every read and never stored. The expiry
// instant itself is still pending.
func DerivedStatus(s Session, now time.Time) Status {
	if s.IsVerified {
		return StatusVerified
	}
	if s.ExpiredByOperator || now.After(s.ExpiresAt) {
		return StatusExpired
	}
	return StatusPending
}

// AttemptsExhausted reports whether the backend's attempt budget is spent.
func (s Session) AttemptsExhausted() bool {
	return s.MaxAttempts > 0 && s.VerificationAttempts >= s.MaxAttempts
}

// Remaining is the whole seconds left until expiresAt, rounded up and never negative.
func Remaining(expiresAt, now time.Time) int {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	seconds := int(left / time.Second)
	if left%time.Second != 0 {
		seconds++
	}
	return seconds
}

// MaskContact hides most of an email local part or a phone number.
func MaskContact(contact string) string {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return ""
	}

	if at := strings.LastIndex(contact, "@"); at > 0 {
		local, domain := []rune(contact[:at]), contact[at:]
		keep := min(2, len(local))
		return string(local[:keep]) + "***" + domain
	}

	digits := 0
	for _, r := range contact {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	runes := []rune(contact)
	if digits <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return "***" + string(runes[len(runes)-4:])
}
