// Package transport implements peer links over pion WebRTC.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/avanishpal143/meetify/internal/config"
	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/media"
	"github.com/avanishpal143/meetify/internal/peer"
)

const opQueueSize = 256

// Options configures every Peer a factory builds.
type Options struct {
	Config *config.Config
	Media  *LocalMedia
	// OnTrack is called for each inbound remote track.
	OnTrack func(remote string, track *webrtc.TrackRemote)
	Logger  *slog.Logger
}

// NewFactory returns a factory building pion-backed transports.
func NewFactory(opts Options) peer.TransportFactory {
	return func(local, remote string, events peer.Events) (peer.Transport, error) {
		return NewPeer(local, remote, events, opts)
	}
}

// Peer is one RTCPeerConnection. Operations and pion callbacks are run
// one at a time on a worker goroutine, so Events never fire from inside
// a Peer method.
type Peer struct {
	local  string
	remote string
	pc     *webrtc.PeerConnection
	events peer.Events
	video  *webrtc.RTPSender
	log    *slog.Logger

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// NewPeerConnection centralizes ICE server configuration
func NewPeerConnection(cfg *config.Config) (*webrtc.PeerConnection, error) {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	if turnServers := cfg.GetTURNServers(); turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if useRelay(len(cfg.GetTURNServers()) > 0, cfg.ForceRelay) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
}

func NewPeer(local, remote string, events peer.Events, opts Options) (*Peer, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{STUNServer: config.DefaultSTUN}
	}

	pc, err := NewPeerConnection(cfg)
	if err != nil {
		return nil, errs.WrapError("transport.NewPeer", errs.ErrTransportFailed, err.Error())
	}

	p := &Peer{
		local:  local,
		remote: remote,
		pc:     pc,
		events: events,
		log:    log.With("local", local, "remote", remote),
		ops:    make(chan func(), opQueueSize),
		done:   make(chan struct{}),
	}

	if err := p.addTracks(opts.Media); err != nil {
		pc.Close()
		return nil, errs.WrapError("transport.NewPeer", errs.ErrTransportFailed, err.Error())
	}
	p.setupHandlers(opts.OnTrack)

	go p.run()
	return p, nil
}

// addTracks sends the camera when there is one. Without it audio is
// receive-only and video goes out on a placeholder track that a screen
// share can replace.
func (p *Peer) addTracks(m *LocalMedia) error {
	var cam *LocalSource
	if m != nil {
		cam = m.Source(media.Camera)
	}

	if cam == nil {
		if _, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
		tr, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return err
		}
		p.video = tr.Sender()
		go drainRTCP(p.video)
		return nil
	}

	audio, err := p.pc.AddTrack(cam.Audio())
	if err != nil {
		return err
	}
	go drainRTCP(audio)

	p.video, err = p.pc.AddTrack(cam.Video())
	if err != nil {
		return err
	}
	go drainRTCP(p.video)
	return nil
}

// drainRTCP reads incoming RTCP so interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *Peer) setupHandlers(onTrack func(string, *webrtc.TrackRemote)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		b, err := EncodeCandidate(c.ToJSON())
		if err != nil {
			p.log.Error("Failed to encode ICE candidate", "error", err)
			return
		}
		p.postCallback(func() { p.events.LocalCandidate(b) })
	})

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("Connection state changed", "state", state.String())
		var ts peer.TransportState
		switch state {
		case webrtc.PeerConnectionStateConnecting:
			ts = peer.TransportConnecting
		case webrtc.PeerConnectionStateConnected:
			ts = peer.TransportConnected
		case webrtc.PeerConnectionStateFailed:
			ts = peer.TransportFailed
		default:
			return
		}
		p.postCallback(func() { p.events.StateChange(ts) })
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.log.Info("Remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if onTrack != nil {
			onTrack(p.remote, track)
		}
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	})
}

func (p *Peer) run() {
	for {
		select {
		case <-p.done:
			if err := p.pc.Close(); err != nil {
				p.log.Debug("Error closing peer connection", "error", err)
			}
			return
		case op := <-p.ops:
			op()
		}
	}
}

func (p *Peer) post(op func()) error {
	select {
	case <-p.done:
		return errs.ErrConnectionClosed
	default:
	}
	select {
	case p.ops <- op:
		return nil
	default:
		return fmt.Errorf("%w: operation queue full", errs.ErrTransportFailed)
	}
}

func (p *Peer) postCallback(op func()) {
	if err := p.post(op); err != nil && !errors.Is(err, errs.ErrConnectionClosed) {
		p.log.Warn("Dropped transport event", "error", err)
	}
}

// fail reports a broken connection. Only call on the worker.
func (p *Peer) fail(op string, err error) {
	p.log.Error("Transport operation failed", "op", op, "error", err)
	p.events.StateChange(peer.TransportFailed)
}

// BindLocalDescription creates the offer or answer with trickle ICE and
// reports it once set.
func (p *Peer) BindLocalDescription(kind peer.DescriptionKind) error {
	return p.post(func() {
		var (
			desc webrtc.SessionDescription
			err  error
		)
		if kind == peer.Offer {
			desc, err = p.pc.CreateOffer(nil)
		} else {
			desc, err = p.pc.CreateAnswer(nil)
		}
		if err == nil {
			err = p.pc.SetLocalDescription(desc)
		}
		if err != nil {
			p.fail("create "+string(kind), err)
			return
		}

		b, err := EncodeDescription(*p.pc.LocalDescription())
		if err != nil {
			p.fail("encode "+string(kind), err)
			return
		}
		p.events.LocalDescription(kind, b)
	})
}

func (p *Peer) ApplyRemoteDescription(kind peer.DescriptionKind, payload []byte) error {
	return p.post(func() {
		desc, err := DecodeDescription(kind, payload)
		if err == nil {
			err = p.pc.SetRemoteDescription(desc)
		}
		if err != nil {
			p.fail("apply remote "+string(kind), err)
		}
	})
}

// AddRemoteCandidate adds a trickled candidate. A bad candidate is
// dropped without failing the connection.
func (p *Peer) AddRemoteCandidate(payload []byte) error {
	return p.post(func() {
		c, err := DecodeCandidate(payload)
		if err != nil {
			p.log.Warn("Dropping remote candidate", "error", err)
			return
		}
		if err := p.pc.AddICECandidate(c); err != nil {
			p.log.Warn("Failed to add ICE candidate", "error", err)
		}
	})
}

// ReplaceOutboundVideo swaps the video sender's track in place. No
// renegotiation is needed since every source uses the same codec. A nil
// src leaves the sender without a track.
func (p *Peer) ReplaceOutboundVideo(src media.Source) error {
	var track webrtc.TrackLocal
	if src != nil {
		ls, ok := src.(*LocalSource)
		if !ok || ls == nil {
			return fmt.Errorf("%w: unsupported source %T", errs.ErrTransportFailed, src)
		}
		track = ls.Video()
	}
	select {
	case <-p.done:
		return errs.ErrConnectionClosed
	default:
	}
	if err := p.video.ReplaceTrack(track); err != nil {
		return errs.WrapError("transport.ReplaceOutboundVideo", errs.ErrTransportFailed, err.Error())
	}
	return nil
}

// Close stops the worker, which closes the connection. Queued operations
// are dropped.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
