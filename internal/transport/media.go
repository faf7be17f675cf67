package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/media"
)

const (
	videoFrameInterval = time.Second / 30
	audioFrameInterval = 20 * time.Millisecond
)

// Synthetic frames. Nothing decodes them; receivers only need RTP flowing.
var (
	videoFrame = []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a, 0x40, 0x01, 0xf0, 0x00}
	audioFrame = []byte{0xf8, 0xff, 0xfe} // Opus 20ms silence
)

// LocalSource is a pair of local tracks standing in for a capture device.
// Screen sources carry video only. A pump writes frames to every enabled
// track until the source is stopped or ended.
type LocalSource struct {
	kind  media.Kind
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled [2]bool
	ended   func()
	done    bool

	quit     chan struct{}
	quitOnce sync.Once
	sent     [2]atomic.Uint64
}

func newLocalSource(kind media.Kind, streamID string) (*LocalSource, error) {
	s := &LocalSource{kind: kind, enabled: [2]bool{true, true}, quit: make(chan struct{})}

	var err error
	s.video, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, kind.String()+"-video", streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s video track: %w", kind, err)
	}
	if kind == media.Camera {
		s.audio, err = webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "camera-audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio track: %w", err)
		}
	}
	go s.pump()
	return s, nil
}

func (s *LocalSource) pump() {
	video := time.NewTicker(videoFrameInterval)
	defer video.Stop()

	var audio <-chan time.Time
	if s.audio != nil {
		t := time.NewTicker(audioFrameInterval)
		defer t.Stop()
		audio = t.C
	}

	for {
		select {
		case <-s.quit:
			return
		case <-video.C:
			s.write(media.Video, s.video, videoFrame, videoFrameInterval)
		case <-audio:
			s.write(media.Audio, s.audio, audioFrame, audioFrameInterval)
		}
	}
}

func (s *LocalSource) write(track media.Track, t *webrtc.TrackLocalStaticSample, frame []byte, d time.Duration) {
	if !s.Enabled(track) {
		return
	}
	if err := t.WriteSample(pmedia.Sample{Data: frame, Duration: d}); err != nil {
		return
	}
	s.sent[track].Add(1)
}

// Sent is the number of frames written to track so far.
func (s *LocalSource) Sent(track media.Track) uint64 {
	return s.sent[track].Load()
}

func (s *LocalSource) halt() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *LocalSource) Kind() media.Kind { return s.kind }

// Video returns the outbound video track.
func (s *LocalSource) Video() webrtc.TrackLocal { return s.video }

// Audio returns the outbound audio track, or nil for screen sources.
func (s *LocalSource) Audio() webrtc.TrackLocal {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *LocalSource) SetEnabled(track media.Track, enabled bool) {
	s.mu.Lock()
	s.enabled[track] = enabled
	s.mu.Unlock()
}

// Enabled reports whether the pump feeds track.
func (s *LocalSource) Enabled(track media.Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled[track]
}

func (s *LocalSource) OnEnded(handler func()) {
	s.mu.Lock()
	s.ended = handler
	s.mu.Unlock()
}

// Stop releases the source. The ended handler does not fire.
func (s *LocalSource) Stop() {
	s.mu.Lock()
	s.done = true
	s.ended = nil
	s.mu.Unlock()
	s.halt()
}

// End simulates the capture being stopped from outside, the way an OS
// "stop sharing" button would.
func (s *LocalSource) End() {
	s.mu.Lock()
	h := s.ended
	s.done = true
	s.ended = nil
	s.mu.Unlock()
	s.halt()
	if h != nil {
		go h()
	}
}

func (s *LocalSource) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// MediaOptions configures a LocalMedia.
type MediaOptions struct {
	StreamID string
	NoCamera bool
	NoScreen bool
}

// LocalMedia hands out local sources and implements media.Provider.
type LocalMedia struct {
	opts MediaOptions

	mu     sync.Mutex
	camera *LocalSource
	screen *LocalSource
}

func NewLocalMedia(opts MediaOptions) *LocalMedia {
	if opts.StreamID == "" {
		opts.StreamID = "meetify"
	}
	return &LocalMedia{opts: opts}
}

func (m *LocalMedia) AcquireCamera(context.Context) (media.Source, error) {
	if m.opts.NoCamera {
		return nil, fmt.Errorf("%w: no capture device", errs.ErrCameraUnavailable)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.camera != nil && !m.camera.stopped() {
		return m.camera, nil
	}
	s, err := newLocalSource(media.Camera, m.opts.StreamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCameraUnavailable, err)
	}
	m.camera = s
	return s, nil
}

func (m *LocalMedia) AcquireScreen(context.Context) (media.Source, error) {
	if m.opts.NoScreen {
		return nil, fmt.Errorf("%w: screen capture denied", errs.ErrCaptureUnavailable)
	}

	s, err := newLocalSource(media.Screen, m.opts.StreamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCaptureUnavailable, err)
	}
	m.mu.Lock()
	m.screen = s
	m.mu.Unlock()
	return s, nil
}

// Source returns the live source of the given kind, or nil.
func (m *LocalMedia) Source(kind media.Kind) *LocalSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.camera
	if kind == media.Screen {
		s = m.screen
	}
	if s == nil || s.stopped() {
		return nil
	}
	return s
}

// Close stops every source handed out.
func (m *LocalMedia) Close() {
	m.mu.Lock()
	cam, screen := m.camera, m.screen
	m.mu.Unlock()
	for _, s := range []*LocalSource{cam, screen} {
		if s != nil {
			s.Stop()
		}
	}
}
