package coordinator

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/identity"
)

var roomParam = regexp.MustCompile(`[?&]room=([^&#\s]+)`)

// ParseReference extracts a room ID from either a bare ID or a shareable
// link of the form <origin>?room=<id>. A bare reference must look like an
// allocated ID; anything else has to carry a room parameter.
func ParseReference(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errs.NewError("parse room reference", errs.ErrInvalidRoomReference)
	}

	if identity.IsCanonical(ref) {
		return ref, nil
	}

	if u, err := url.Parse(ref); err == nil {
		if id := u.Query().Get("room"); id != "" {
			return id, nil
		}
	}

	// Malformed links still tend to carry a usable query string.
	if m := roomParam.FindStringSubmatch(ref); m != nil {
		if id, err := url.QueryUnescape(m[1]); err == nil && id != "" {
			return id, nil
		}
		return m[1], nil
	}

	return "", errs.WrapError("parse room reference", errs.ErrInvalidRoomReference, ref)
}

// RoomLink builds the shareable link for a room.
func RoomLink(origin, roomID string) string {
	u, err := url.Parse(origin)
	if err != nil || origin == "" {
		return origin + "?room=" + url.QueryEscape(roomID)
	}
	q := u.Query()
	q.Set("room", roomID)
	u.RawQuery = q.Encode()
	return u.String()
}
