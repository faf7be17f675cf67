// Package media tracks the local participant's capture state and keeps
// every live peer link bound to the right outbound video source.
package media

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/avanishpal143/meetify/internal/errs"
)

// State is the local participant's media flags.
type State struct {
	Muted         bool `json:"muted"`
	VideoEnabled  bool `json:"video_enabled"`
	SharingScreen bool `json:"sharing_screen"`
	ReceiveOnly   bool `json:"receive_only"`
}

// Controller owns one participant's sources.
//
// Lock order: Controller, then whatever links() locks, then each Binding.
// Callers must not hold locks that a Binding or links() also takes.
type Controller struct {
	provider Provider
	links    func() []Binding
	log      *slog.Logger

	mu       sync.Mutex
	state    State
	camera   Source
	screen   Source
	shareGen uint64
}

// NewController creates a controller. links returns the participant's
// live peer links at the moment it is called.
func NewController(provider Provider, links func() []Binding, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if links == nil {
		links = func() []Binding { return nil }
	}
	return &Controller{
		provider: provider,
		links:    links,
		log:      log,
		state:    State{VideoEnabled: true},
	}
}

// Init acquires the camera. On failure the controller stays usable in
// receive-only mode and the error is returned for the caller to surface.
func (c *Controller) Init(ctx context.Context) error {
	cam, err := c.provider.AcquireCamera(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.state.ReceiveOnly = true
		if errors.Is(err, errs.ErrCameraUnavailable) {
			return errs.NewError("acquire camera", err)
		}
		return errs.WrapError("acquire camera", errs.ErrCameraUnavailable, err.Error())
	}
	c.camera = cam
	c.camera.SetEnabled(Audio, !c.state.Muted)
	c.camera.SetEnabled(Video, c.state.VideoEnabled)
	return nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active returns the kind and source new links should be bound to.
func (c *Controller) Active() (Kind, Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *Controller) activeLocked() (Kind, Source) {
	if c.state.SharingScreen {
		return Screen, c.screen
	}
	return Camera, c.camera
}

// Adopt binds a newly created link to the current source.
func (c *Controller) Adopt(b Binding) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	kind, src := c.activeLocked()
	return b.BindSource(kind, src)
}

func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Muted = muted
	if c.camera != nil {
		c.camera.SetEnabled(Audio, !muted)
	}
}

func (c *Controller) SetVideoEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.VideoEnabled = enabled
	if c.camera != nil {
		c.camera.SetEnabled(Video, enabled)
	}
}

// StartScreenShare acquires a screen source and rebinds every live link
// to it. If the provider refuses, or any link fails to rebind, all links
// are left on the camera.
func (c *Controller) StartScreenShare(ctx context.Context) error {
	c.mu.Lock()
	sharing := c.state.SharingScreen
	c.mu.Unlock()
	if sharing {
		return nil
	}

	screen, err := c.provider.AcquireScreen(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrCaptureUnavailable) {
			return errs.NewError("start screen share", err)
		}
		return errs.WrapError("start screen share", errs.ErrCaptureUnavailable, err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another call won while the provider was prompting.
	if c.state.SharingScreen {
		screen.Stop()
		return nil
	}

	var swapped []Binding
	for _, b := range c.links() {
		if err := b.BindSource(Screen, screen); err != nil {
			if errors.Is(err, errs.ErrStalePeerLink) {
				continue
			}
			for _, s := range swapped {
				if rerr := s.BindSource(Camera, c.camera); rerr != nil {
					c.log.Warn("failed to roll back link to camera", "error", rerr)
				}
			}
			screen.Stop()
			return errs.NewError("start screen share", err)
		}
		swapped = append(swapped, b)
	}

	c.screen = screen
	c.state.SharingScreen = true
	c.shareGen++
	gen := c.shareGen
	screen.OnEnded(func() {
		c.log.Info("screen capture ended")
		c.stopShare(gen)
	})

	c.log.Info("screen share started", "links", len(swapped))
	return nil
}

// StopScreenShare rebinds every live link to the camera. It is a no-op
// when not sharing.
func (c *Controller) StopScreenShare() {
	c.mu.Lock()
	gen := c.shareGen
	c.mu.Unlock()
	c.stopShare(gen)
}

func (c *Controller) stopShare(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.SharingScreen || gen != c.shareGen {
		return
	}

	for _, b := range c.links() {
		if err := b.BindSource(Camera, c.camera); err != nil && !errors.Is(err, errs.ErrStalePeerLink) {
			c.log.Warn("failed to rebind link to camera", "error", err)
		}
	}

	c.screen.Stop()
	c.screen = nil
	c.state.SharingScreen = false
	c.log.Info("screen share stopped")
}

// Close stops every source. Used when the session ends.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.screen != nil {
		c.screen.Stop()
		c.screen = nil
		c.state.SharingScreen = false
	}
	if c.camera != nil {
		c.camera.Stop()
		c.camera = nil
	}
}
