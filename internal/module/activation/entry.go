package activation

import (
	"fmt"
	"strings"
	"time"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
	"github.com/yothgewalt/discount-card-portal-server/internal/otp"
)

// Entry is the code input of one activation: a fixed row of single-digit
// cells, the focused cell and the instant the code stops being accepted.
// It does no I/O; the countdown is always derived from ExpiresAt.
type Entry struct {
	Cells     []string  `json:"cells"`
	Focus     int       `json:"focus"`
	ExpiresAt time.Time `json:"expires_at"`
	Error     string    `json:"error,omitempty"`
}

func NewEntry(digits int, expiresAt time.Time) Entry {
	return Entry{
		Cells:     make([]string, digits),
		ExpiresAt: expiresAt,
	}
}

func (e *Entry) checkIndex(index int) error {
	if index < 0 || index >= len(e.Cells) {
		return failure.Newf(failure.Validation, "Cell %d does not exist.", index)
	}
	return nil
}

func digitsOf(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Input stores the last digit of value at index and advances focus. An
// empty value clears the cell; a value without digits changes nothing.
func (e *Entry) Input(index int, value string) error {
	if err := e.checkIndex(index); err != nil {
		return err
	}

	if value == "" {
		e.Cells[index] = ""
		e.Focus = index
		return nil
	}

	digits := digitsOf(value)
	if digits == "" {
		return failure.Invalid("Only digits can be entered.")
	}

	e.Cells[index] = digits[len(digits)-1:]
	e.Error = ""
	if index < len(e.Cells)-1 {
		e.Focus = index + 1
	} else {
		e.Focus = index
	}
	return nil
}

// Backspace clears a filled cell in place, or moves focus back from an
// empty one without touching the previous cell.
func (e *Entry) Backspace(index int) error {
	if err := e.checkIndex(index); err != nil {
		return err
	}

	switch {
	case e.Cells[index] != "":
		e.Cells[index] = ""
		e.Focus = index
	case index > 0:
		e.Focus = index - 1
	default:
		e.Focus = 0
	}
	return nil
}

// Fill spreads a pasted code over the cells from the left.
func (e *Entry) Fill(code string) error {
	digits := digitsOf(code)
	if digits == "" {
		return failure.Invalid("Only digits can be entered.")
	}
	if len(digits) > len(e.Cells) {
		digits = digits[:len(e.Cells)]
	}

	for i := range e.Cells {
		e.Cells[i] = ""
		if i < len(digits) {
			e.Cells[i] = digits[i : i+1]
		}
	}
	e.Error = ""
	e.Focus = e.nextEmpty()
	return nil
}

func (e *Entry) nextEmpty() int {
	for i, cell := range e.Cells {
		if cell == "" {
			return i
		}
	}
	return len(e.Cells) - 1
}

func (e *Entry) Complete() bool {
	for _, cell := range e.Cells {
		if cell == "" {
			return false
		}
	}
	return len(e.Cells) > 0
}

func (e *Entry) Code() (string, error) {
	if !e.Complete() {
		return "", failure.Invalid(fmt.Sprintf("Please enter the complete %d-digit code.", len(e.Cells)))
	}
	return strings.Join(e.Cells, ""), nil
}

func (e *Entry) Reset(expiresAt time.Time) {
	for i := range e.Cells {
		e.Cells[i] = ""
	}
	e.Focus = 0
	e.Error = ""
	e.ExpiresAt = expiresAt
}

func (e *Entry) Remaining(now time.Time) int {
	return otp.Remaining(e.ExpiresAt, now)
}

// Expired is exclusive of the expiry instant itself.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

func (e Entry) clone() Entry {
	e.Cells = append([]string(nil), e.Cells...)
	return e
}
