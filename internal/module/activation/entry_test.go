package activation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yothgewalt/discount-card-portal-server/internal/failure"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEntry_InputAdvancesFocus(t *testing.T) {
	e := NewEntry(4, epoch.Add(116*time.Second))

	for i, digit := range []string{"1", "2", "3"} {
		require.NoError(t, e.Input(i, digit))
		assert.Equal(t, i+1, e.Focus)
	}

	require.NoError(t, e.Input(3, "4"))
	assert.Equal(t, 3, e.Focus, "focus stays on the last cell")
	assert.Equal(t, []string{"1", "2", "3", "4"}, e.Cells)
}

func TestEntry_InputSanitizes(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{"single digit", "7", "7", false},
		{"last digit wins", "58", "8", false},
		{"mixed input", "a9b", "9", false},
		{"letters only", "x", "", true},
		{"unicode digit", "٣", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEntry(4, epoch)
			err := e.Input(0, tt.value)
			if tt.wantErr {
				assert.True(t, failure.Is(err, failure.Validation))
				assert.Equal(t, 0, e.Focus)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, e.Cells[0])
		})
	}
}

func TestEntry_InputOutOfRange(t *testing.T) {
	e := NewEntry(4, epoch)
	assert.True(t, failure.Is(e.Input(4, "1"), failure.Validation))
	assert.True(t, failure.Is(e.Input(-1, "1"), failure.Validation))
}

func TestEntry_Backspace(t *testing.T) {
	e := NewEntry(4, epoch)
	require.NoError(t, e.Fill("12"))
	assert.Equal(t, 2, e.Focus)

	require.NoError(t, e.Backspace(2))
	assert.Equal(t, 1, e.Focus, "empty cell moves focus back")
	assert.Equal(t, "2", e.Cells[1], "previous cell untouched")

	require.NoError(t, e.Backspace(1))
	assert.Equal(t, 1, e.Focus, "filled cell is cleared in place")
	assert.Equal(t, "", e.Cells[1])

	require.NoError(t, e.Backspace(1))
	require.NoError(t, e.Backspace(0))
	require.NoError(t, e.Backspace(0))
	assert.Equal(t, 0, e.Focus, "no underflow past the first cell")
	assert.Equal(t, []string{"", "", "", ""}, e.Cells)
}

func TestEntry_Code(t *testing.T) {
	e := NewEntry(4, epoch)
	require.NoError(t, e.Fill("123"))

	_, err := e.Code()
	require.Error(t, err)
	assert.Equal(t, "Please enter the complete 4-digit code.", failure.Present(err).Message)

	require.NoError(t, e.Input(3, "4"))
	code, err := e.Code()
	require.NoError(t, err)
	assert.Equal(t, "1234", code)
}

func TestEntry_FillTruncatesAndFocuses(t *testing.T) {
	e := NewEntry(4, epoch)
	require.NoError(t, e.Fill("12-34-56"))
	assert.Equal(t, []string{"1", "2", "3", "4"}, e.Cells)
	assert.Equal(t, 3, e.Focus)

	assert.True(t, failure.Is(e.Fill("abcd"), failure.Validation))
}

func TestEntry_ResetClearsRegardlessOfContent(t *testing.T) {
	e := NewEntry(4, epoch)
	require.NoError(t, e.Fill("9876"))
	e.Error = "Invalid OTP"

	next := epoch.Add(116 * time.Second)
	e.Reset(next)

	assert.Equal(t, []string{"", "", "", ""}, e.Cells)
	assert.Equal(t, 0, e.Focus)
	assert.Empty(t, e.Error)
	assert.Equal(t, 116, e.Remaining(epoch))
}

func TestEntry_ExpiryBoundary(t *testing.T) {
	e := NewEntry(4, epoch)

	assert.False(t, e.Expired(epoch), "the expiry instant is still valid")
	assert.True(t, e.Expired(epoch.Add(time.Nanosecond)))
	assert.Equal(t, 1, e.Remaining(epoch.Add(-500*time.Millisecond)))
	assert.Equal(t, 0, e.Remaining(epoch.Add(time.Hour)))
}
