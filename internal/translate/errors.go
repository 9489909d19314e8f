package translate

import (
	"strings"

	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/realtimeapi"
	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/voiceagent"
)

// Severity classifies an upstream error for the session.
type Severity int

const (
	// Recoverable errors surface to the client as a Warning; the session
	// stays open.
	Recoverable Severity = iota

	// Fatal errors surface as an Error and the session closes. The proxy
	// never retries; reconnection is the client's responsibility.
	Fatal
)

// redacted replaces the upstream credential wherever it would otherwise
// leak into a client-visible payload.
const redacted = "[redacted]"

// fatalErrorTypes are provider error types that invalidate the session.
var fatalErrorTypes = map[string]bool{
	"invalid_authentication_error": true,
	"authentication_error":         true,
	"session_expired_error":        true,
	"server_error":                 true,
}

// fatalErrorCodes are provider error codes that invalidate the session
// regardless of the error type.
var fatalErrorCodes = map[string]bool{
	"invalid_api_key":    true,
	"session_expired":    true,
	"token_expired":      true,
	"insufficient_quota": true,
}

// ClassifyError maps a provider error event to a severity. Message-level
// validation failures (malformed function arguments, rejected items) do not
// invalidate the session; authentication and session-level failures do.
// sessionReady reports whether SettingsApplied has been emitted: any error
// before readiness is fatal because the client cannot have a working
// session without it.
func ClassifyError(detail *realtimeapi.ErrorDetail, sessionReady bool) Severity {
	if !sessionReady {
		return Fatal
	}
	if detail == nil {
		return Recoverable
	}
	if fatalErrorTypes[detail.Type] || fatalErrorCodes[detail.Code] {
		return Fatal
	}
	return Recoverable
}

// Scrub removes the upstream credential from text bound for the client.
func Scrub(text, credential string) string {
	if credential == "" {
		return text
	}
	return strings.ReplaceAll(text, credential, redacted)
}

// ClientError builds the client Error message for an upstream error event,
// with the credential scrubbed from the description.
func ClientError(detail *realtimeapi.ErrorDetail, credential string) voiceagent.Error {
	description := "upstream error"
	code := ""
	if detail != nil {
		if detail.Message != "" {
			description = Scrub(detail.Message, credential)
		}
		code = detail.Code
		if code == "" {
			code = detail.Type
		}
	}
	return voiceagent.Error{
		Type:        voiceagent.TypeError,
		Description: description,
		Code:        code,
	}
}

// ClientWarning builds the client Warning message for a recoverable
// upstream error event.
func ClientWarning(detail *realtimeapi.ErrorDetail, credential string) voiceagent.Warning {
	e := ClientError(detail, credential)
	return voiceagent.Warning{
		Type:        voiceagent.TypeWarning,
		Description: e.Description,
		Code:        e.Code,
	}
}
