package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"sprintsync/internal/domain"
)

// inboundMessage is one client request: an operation name and its payload.
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func mustMarshal(event string, data any) []byte {
	raw, err := json.Marshal(outboundMessage{Event: event, Data: data})
	if err != nil {
		// Payloads are built from plain maps and domain structs; a marshal
		// failure is a programming error.
		panic(err)
	}
	return raw
}

// credentialFromRequest extracts the auth token from the handshake. Checked
// in priority order: explicit auth header, bearer header, jwt cookie, token
// query parameter. First match wins.
func credentialFromRequest(r *http.Request) string {
	if t := r.Header.Get("X-Auth-Token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		if t := strings.TrimPrefix(h, "Bearer "); t != "" {
			return t
		}
	}
	if c, err := r.Cookie("jwt"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// errorPayload shapes a failure into the reply sent to the requester. The
// code distinguishes the error taxonomy for clients; the message is human
// readable.
func errorPayload(err error, msg string) map[string]any {
	return map[string]any{"error": msg, "code": errorCode(err)}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, domain.ErrIntegrity):
		return "integrity_error"
	default:
		return "internal"
	}
}
