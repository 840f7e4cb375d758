package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidUsername(t *testing.T) {
	require.True(t, ValidUsername("alice_01"))
	require.False(t, ValidUsername("ab"))
	require.False(t, ValidUsername("has space"))
	require.False(t, ValidUsername(""))
}

func TestValidPassword(t *testing.T) {
	require.True(t, ValidPassword("hunter22"))
	require.False(t, ValidPassword("short"))
}

func TestSanitizeMessage(t *testing.T) {
	got, err := SanitizeMessage("  hello world  ")
	require.NoError(t, err)
	require.Equal(t, "hello world", got)

	_, err = SanitizeMessage(string([]byte{0}))
	require.ErrorIs(t, err, ErrMessageInvalid)

	_, err = SanitizeMessage(string(rune(0x07)))
	require.ErrorIs(t, err, ErrMessageInvalid)

	got, err = SanitizeMessage("line one\nline two")
	require.NoError(t, err)
	require.Equal(t, "line one\nline two", got)
}

func TestLooksLikeThreat(t *testing.T) {
	require.True(t, LooksLikeThreat("1' OR '1'='1"))
	require.True(t, LooksLikeThreat("../../etc/passwd"))
	require.True(t, LooksLikeThreat("<script>alert(1)</script>"))
	require.False(t, LooksLikeThreat("hello there"))
}

func TestBlocklistEscalation(t *testing.T) {
	bl := NewBlocklist()
	now := time.Now()

	sev := bl.RecordOffense("1.2.3.4", now)
	require.Equal(t, SeverityLow, sev)
	require.True(t, bl.IsBlocked("1.2.3.4", now))
	require.False(t, bl.IsBlocked("1.2.3.4", now.Add(6*time.Minute)))

	sev = bl.RecordOffense("1.2.3.4", now)
	require.Equal(t, SeverityMedium, sev)

	sev = bl.RecordOffense("1.2.3.4", now)
	require.Equal(t, SeverityHigh, sev)

	sev = bl.RecordOffense("1.2.3.4", now)
	require.Equal(t, SeverityCritical, sev)
}

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	rl := NewRateLimiter()
	allowed, err := rl.AllowCommand(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, allowed)
}
