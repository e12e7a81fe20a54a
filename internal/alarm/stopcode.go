package alarm

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ikkeifujio/WakeOrPay/internal/model"
)

// Stop-code wire format: "WakeOrPay:Stop:<token>". The token is either
// the universal sentinel, a per-alarm token, or an alarm ID. Produced by
// the QR generator, consumed here after camera decoding.
const (
	Scheme        = "WakeOrPay"
	stopLabel     = "Stop"
	codeSeparator = ":"
)

// StopCode renders the wire form of a stop token, suitable for QR
// generation.
func StopCode(token string) string {
	return Scheme + codeSeparator + stopLabel + codeSeparator + token
}

// ValidateStopCode reports whether code stops the given session. It is
// a pure function of (code, session): no session that is not Active can
// be stopped, whatever the code.
func ValidateStopCode(code string, session *model.Session) bool {
	if code == "" || session == nil {
		return false
	}
	token, ok := parseStopCode(code)
	if !ok {
		return false
	}
	if session.State != model.StateActive {
		return false
	}

	if session.ExpectedToken == model.UniversalStopToken {
		// Universal alarms accept any well-formed token.
		return true
	}
	if token == session.ExpectedToken {
		return true
	}
	// Back-compat: codes carrying the session's alarm ID stay valid for
	// alarms that predate per-alarm tokens.
	if id, err := uuid.Parse(token); err == nil && id == session.AlarmID {
		return true
	}
	return false
}

// parseStopCode extracts the token from the wire format, rejecting
// anything that is not exactly "<scheme>:Stop:<token>" with a non-empty
// token.
func parseStopCode(code string) (string, bool) {
	parts := strings.SplitN(code, codeSeparator, 3)
	if len(parts) != 3 {
		return "", false
	}
	if parts[0] != Scheme || parts[1] != stopLabel || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
