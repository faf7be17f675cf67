package transport

import (
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/peer"
)

// descriptionPayload is the signaled form of a session description.
type descriptionPayload struct {
	Type string `msgpack:"type"`
	SDP  string `msgpack:"sdp"`
}

// candidatePayload is the signaled form of a trickled ICE candidate.
type candidatePayload struct {
	Candidate        string  `msgpack:"candidate"`
	SDPMid           *string `msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `msgpack:"usernameFragment,omitempty"`
}

// EncodeDescription packs a local description for the signaling channel.
func EncodeDescription(desc webrtc.SessionDescription) ([]byte, error) {
	return msgpack.Marshal(descriptionPayload{Type: desc.Type.String(), SDP: desc.SDP})
}

// DecodeDescription unpacks a remote description and checks it is of the
// kind the envelope claimed.
func DecodeDescription(kind peer.DescriptionKind, b []byte) (webrtc.SessionDescription, error) {
	var p descriptionPayload
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to decode description: %w", err)
	}
	if p.Type != string(kind) {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %s envelope carries %q description", errs.ErrUnexpectedMessage, kind, p.Type)
	}
	if p.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: empty %s description", errs.ErrUnexpectedMessage, kind)
	}
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(p.Type), SDP: p.SDP}, nil
}

// EncodeCandidate packs a local ICE candidate.
func EncodeCandidate(c webrtc.ICECandidateInit) ([]byte, error) {
	return msgpack.Marshal(candidatePayload{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// DecodeCandidate unpacks a remote ICE candidate. An empty candidate line
// marks end-of-candidates and is passed through.
func DecodeCandidate(b []byte) (webrtc.ICECandidateInit, error) {
	var p candidatePayload
	if err := msgpack.Unmarshal(b, &p); err != nil {
		return webrtc.ICECandidateInit{}, fmt.Errorf("failed to decode candidate: %w", err)
	}
	if p.Candidate != "" {
		if _, err := ice.UnmarshalCandidate(strings.TrimPrefix(p.Candidate, "candidate:")); err != nil {
			return webrtc.ICECandidateInit{}, fmt.Errorf("failed to unmarshal ice candidate: %w", err)
		}
	}
	return webrtc.ICECandidateInit{
		Candidate:        p.Candidate,
		SDPMid:           p.SDPMid,
		SDPMLineIndex:    p.SDPMLineIndex,
		UsernameFragment: p.UsernameFragment,
	}, nil
}
