// Package events publishes the audit trail of credential operations.
//
// Events are handed to a Publisher, which never blocks the caller, and
// delivered at least once to a Sink by a single worker. One worker means the
// sink sees events in submission order, so a token's issue always precedes
// its revocation.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/codec"
)

// Type names what happened.
type Type string

const (
	TypeLoginSuccess        Type = "login_success"
	TypeLoginFailure        Type = "login_failure"
	TypeTokenIssued         Type = "token_issued"
	TypeTokenRefreshed      Type = "token_refreshed"
	TypeTokenRevoked        Type = "token_revoked"
	TypeSessionsRevoked     Type = "sessions_revoked"
	TypePrincipalRegistered Type = "principal_registered"
	TypeTOTPEnrolled        Type = "totp_enrolled"
	TypeSigningKeyRotated   Type = "signing_key_rotated"
)

// Outcome is the result of the operation that produced the event.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one immutable audit record.
type Event struct {
	ID        string            `json:"id" cbor:"id"`
	Type      Type              `json:"type" cbor:"type"`
	Principal string            `json:"principal,omitempty" cbor:"principal,omitempty"`
	TokenID   string            `json:"jti,omitempty" cbor:"jti,omitempty"`
	Timestamp time.Time         `json:"timestamp" cbor:"timestamp"`
	Outcome   Outcome           `json:"outcome" cbor:"outcome"`
	Reason    string            `json:"reason,omitempty" cbor:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" cbor:"metadata,omitempty"`
}

// Encoding selects the wire format of events written to a sink.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// ParseEncoding accepts "json" or "cbor", case-insensitively. Empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(s)) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingCBOR:
		return EncodingCBOR, nil
	}
	return "", fmt.Errorf("events: unknown encoding %q", s)
}

// ContentType is the MIME type carried alongside encoded events.
func (e Encoding) ContentType() string {
	if e == EncodingCBOR {
		return "application/cbor"
	}
	return "application/json"
}

// Encode serialises ev.
func (e Encoding) Encode(ev Event) ([]byte, error) {
	if e == EncodingCBOR {
		return codec.Marshal(ev)
	}
	return json.Marshal(ev)
}

// Decode is the inverse of Encode, used by consumers and tests.
func (e Encoding) Decode(data []byte) (Event, error) {
	var ev Event
	var err error
	if e == EncodingCBOR {
		err = codec.Unmarshal(data, &ev)
	} else {
		err = json.Unmarshal(data, &ev)
	}
	return ev, err
}
