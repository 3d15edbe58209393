// Package realtime tracks which users are connected, which group rooms they
// are listening on, and pushes events to exactly the live connections that
// should see them.
package realtime

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

const maxIDLength = 128

var (
	ErrInvalidIdentity = errors.New("realtime: invalid identity")
	ErrInvalidRoom     = errors.New("realtime: invalid room id")
	ErrEncodePayload   = errors.New("realtime: payload is not encodable")
	ErrSendBufferFull  = errors.New("realtime: send buffer full")
	ErrConnClosed      = errors.New("realtime: connection closed")
	ErrNilHandle       = errors.New("realtime: nil connection handle")
)

// Identity is the stable user identifier issued by the auth collaborator.
type Identity string

// RoomID identifies a group conversation.
type RoomID string

// ParseIdentity validates a raw identifier coming across a boundary.
func ParseIdentity(raw string) (Identity, error) {
	if !validID(raw) {
		return "", errors.Wrapf(ErrInvalidIdentity, "%q", raw)
	}
	return Identity(raw), nil
}

// ParseRoomID validates a raw room identifier.
func ParseRoomID(raw string) (RoomID, error) {
	if !validID(raw) {
		return "", errors.Wrapf(ErrInvalidRoom, "%q", raw)
	}
	return RoomID(raw), nil
}

// Identities converts raw identifiers, failing on the first malformed one.
func Identities(raw []string) ([]Identity, error) {
	out := make([]Identity, 0, len(raw))
	for _, s := range raw {
		id, err := ParseIdentity(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func validID(s string) bool {
	if strings.TrimSpace(s) == "" || len(s) > maxIDLength {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}
