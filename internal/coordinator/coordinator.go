// Package coordinator drives room membership and the peer links between
// every pair of participants in a room.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avanishpal143/meetify/internal/errs"
	"github.com/avanishpal143/meetify/internal/identity"
	"github.com/avanishpal143/meetify/internal/media"
	"github.com/avanishpal143/meetify/internal/peer"
	"github.com/avanishpal143/meetify/internal/room"
	"github.com/avanishpal143/meetify/internal/signaling"
)

const (
	DefaultNegotiationTimeout = 30 * time.Second
	defaultUpdateBuffer       = 1024
)

// Endpoint is everything the coordinator needs to reach one participant.
type Endpoint struct {
	Channel    signaling.Channel
	Transports peer.TransportFactory
	Media      media.Provider
}

// Options configures a Coordinator.
type Options struct {
	Registry *room.Registry
	IDs      identity.Allocator
	Logger   *slog.Logger
	// Origin is the base URL shareable room links are built on.
	Origin string
	// NegotiationTimeout bounds how long a link may take to connect.
	// Negative disables the deadline, zero uses the default.
	NegotiationTimeout time.Duration
	UpdateBuffer       int
}

type member struct {
	participant Participant
	endpoint    Endpoint
	media       *media.Controller
	room        string
	pending     string
	links       map[string]*peer.Link
}

// Coordinator is the only writer of the room registry. It owns every
// peer link and is safe for concurrent use.
//
// Lock order: media controllers, then Coordinator.mu, then links. The
// coordinator never calls into a controller or a link callback while
// holding its own lock.
type Coordinator struct {
	registry *room.Registry
	ids      identity.Allocator
	log      *slog.Logger
	origin   string
	timeout  time.Duration
	updates  chan Update

	mu      sync.Mutex
	members map[string]*member
}

// New creates a coordinator.
func New(opts Options) *Coordinator {
	if opts.IDs == nil {
		opts.IDs = identity.New()
	}
	if opts.Registry == nil {
		opts.Registry = room.NewRegistry(opts.IDs)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch {
	case opts.NegotiationTimeout == 0:
		opts.NegotiationTimeout = DefaultNegotiationTimeout
	case opts.NegotiationTimeout < 0:
		opts.NegotiationTimeout = 0
	}
	if opts.UpdateBuffer <= 0 {
		opts.UpdateBuffer = defaultUpdateBuffer
	}

	return &Coordinator{
		registry: opts.Registry,
		ids:      opts.IDs,
		log:      opts.Logger.With("component", "coordinator"),
		origin:   opts.Origin,
		timeout:  opts.NegotiationTimeout,
		updates:  make(chan Update, opts.UpdateBuffer),
		members:  make(map[string]*member),
	}
}

// Updates streams peer updates, room snapshots and chat messages.
func (c *Coordinator) Updates() <-chan Update {
	return c.updates
}

func (c *Coordinator) emit(u Update) {
	select {
	case c.updates <- u:
	default:
		c.log.Warn("update stream full, dropping update", "recipients", u.Recipients())
	}
}

// Attach registers a participant and acquires its camera. A camera
// failure is returned but the participant stays attached in receive-only
// mode and may still create or join rooms.
func (c *Coordinator) Attach(ctx context.Context, p Participant, ep Endpoint) error {
	c.mu.Lock()
	if _, ok := c.members[p.ID]; ok {
		c.mu.Unlock()
		return errs.WrapError("attach", errs.ErrAlreadyAttached, p.ID)
	}
	m := &member{
		participant: p,
		endpoint:    ep,
		links:       make(map[string]*peer.Link),
	}
	m.media = media.NewController(ep.Media, func() []media.Binding {
		return c.bindings(p.ID)
	}, c.log.With("participant", p.ID))
	c.members[p.ID] = m
	c.mu.Unlock()

	ep.Channel.OnEnvelope(c.dispatch)
	c.log.Info("participant attached", "participant", p.ID)

	if err := m.media.Init(ctx); err != nil {
		c.log.Warn("camera unavailable, participant is receive-only", "participant", p.ID, "error", err)
		return err
	}
	return nil
}

// Detach ends a participant's session: it leaves its room, stops its
// sources and forgets it.
func (c *Coordinator) Detach(id string) {
	if err := c.LeaveRoom(id); err != nil && !errors.Is(err, errs.ErrNotInRoom) && !errors.Is(err, errs.ErrNotAttached) {
		c.log.Warn("leave on detach", "participant", id, "error", err)
	}

	c.mu.Lock()
	m, ok := c.members[id]
	delete(c.members, id)
	c.mu.Unlock()
	if !ok {
		return
	}

	m.endpoint.Channel.OnEnvelope(nil)
	m.media.Close()
	c.log.Info("participant detached", "participant", id)
}

// SetDisplayName updates a participant's name and resumes a join that was
// waiting for one. It returns the room joined, if any.
func (c *Coordinator) SetDisplayName(id, name string) (string, error) {
	c.mu.Lock()
	m, ok := c.members[id]
	if !ok {
		c.mu.Unlock()
		return "", errs.WrapError("set display name", errs.ErrNotAttached, id)
	}
	m.participant.DisplayName = name
	roomID := m.room
	pending := ""
	if name != "" {
		pending = m.pending
		m.pending = ""
	}
	c.mu.Unlock()

	if roomID != "" {
		c.emitSnapshot(roomID)
	}
	if pending == "" {
		return roomID, nil
	}

	c.log.Info("resuming deferred join", "participant", id, "room", pending)
	return c.JoinRoom(id, pending)
}

// CreateRoom creates a room with the participant as its only member.
func (c *Coordinator) CreateRoom(id string) (string, error) {
	c.mu.Lock()
	m, ok := c.members[id]
	if !ok {
		c.mu.Unlock()
		return "", errs.WrapError("create room", errs.ErrNotAttached, id)
	}
	roomID, err := c.registry.Create(id)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	m.room = roomID
	m.pending = ""
	c.mu.Unlock()

	c.log.Info("room created", "room", roomID, "participant", id)
	c.emitSnapshot(roomID)
	return roomID, nil
}

type pair struct {
	joiner, existing *peer.Link
	joinerMedia      *media.Controller
	existingMedia    *media.Controller
}

// JoinRoom joins the room named by ref, a bare room ID or a shareable
// link. The newcomer initiates a link to every member already present.
//
// If the participant has no display name yet and the room exists, the
// join is deferred until SetDisplayName; RoomOf reports false until then.
func (c *Coordinator) JoinRoom(id, ref string) (string, error) {
	roomID, err := ParseReference(ref)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	m, ok := c.members[id]
	if !ok {
		c.mu.Unlock()
		return "", errs.WrapError("join room", errs.ErrNotAttached, id)
	}
	if m.room != "" {
		c.mu.Unlock()
		return "", errs.NewError("join room", errs.ErrAlreadyInRoom)
	}
	if m.participant.DisplayName == "" {
		if !c.registry.Exists(roomID) {
			c.mu.Unlock()
			return "", errs.WrapError("join room", errs.ErrRoomNotFound, roomID)
		}
		m.pending = roomID
		c.mu.Unlock()
		c.log.Info("join deferred until a display name is set", "participant", id, "room", roomID)
		return roomID, nil
	}

	before, err := c.registry.Join(roomID, id)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}
	m.room = roomID
	m.pending = ""

	var pairs []pair
	for _, other := range before {
		om, ok := c.members[other]
		if !ok {
			c.log.Warn("room member is not attached", "room", roomID, "member", other)
			continue
		}
		p, err := c.newPairLocked(m, om)
		if err != nil {
			c.log.Error("failed to create peer link", "local", id, "remote", other, "error", err)
			continue
		}
		pairs = append(pairs, p)
	}
	c.mu.Unlock()

	for _, p := range pairs {
		if err := p.existingMedia.Adopt(p.existing); err != nil {
			c.log.Debug("bind source", "error", err)
		}
		if err := p.joinerMedia.Adopt(p.joiner); err != nil {
			c.log.Debug("bind source", "error", err)
		}
		p.existing.Start()
		p.joiner.Start()
	}

	c.log.Info("participant joined room", "room", roomID, "participant", id, "peers", len(pairs))
	c.emitSnapshot(roomID)
	return roomID, nil
}

// twins ties the two halves of a pair together so a late callback from a
// closed half can never touch a newer pair between the same participants.
type twins struct {
	joiner, existing *peer.Link
}

func (t *twins) other(st peer.Status) *peer.Link {
	if t.joiner != nil && t.joiner.Local() == st.Local {
		return t.existing
	}
	return t.joiner
}

func (t *twins) self(st peer.Status) *peer.Link {
	if t.joiner != nil && t.joiner.Local() == st.Local {
		return t.joiner
	}
	return t.existing
}

func (c *Coordinator) newPairLocked(joiner, existing *member) (pair, error) {
	tw := &twins{}
	onChange := func(st peer.Status) { c.linkChanged(tw, st) }

	jl, err := peer.New(peer.Config{
		Local:     joiner.participant.ID,
		Remote:    existing.participant.ID,
		Initiator: true,
		Channel:   joiner.endpoint.Channel,
		Factory:   joiner.endpoint.Transports,
		Timeout:   c.timeout,
		OnChange:  onChange,
		Logger:    c.log,
	})
	if err != nil {
		return pair{}, err
	}
	el, err := peer.New(peer.Config{
		Local:     existing.participant.ID,
		Remote:    joiner.participant.ID,
		Initiator: false,
		Channel:   existing.endpoint.Channel,
		Factory:   existing.endpoint.Transports,
		Timeout:   c.timeout,
		OnChange:  onChange,
		Logger:    c.log,
	})
	if err != nil {
		jl.Close(peer.ReasonHangup)
		return pair{}, err
	}
	tw.joiner, tw.existing = jl, el

	joiner.links[existing.participant.ID] = jl
	existing.links[joiner.participant.ID] = el
	return pair{
		joiner:        jl,
		existing:      el,
		joinerMedia:   joiner.media,
		existingMedia: existing.media,
	}, nil
}

type closing struct {
	link   *peer.Link
	reason peer.Reason
}

// LeaveRoom removes the participant from its room and closes every link
// involving it. The remaining peers are told with a LEAVE envelope.
func (c *Coordinator) LeaveRoom(id string) error {
	c.mu.Lock()
	m, ok := c.members[id]
	if !ok {
		c.mu.Unlock()
		return errs.WrapError("leave room", errs.ErrNotAttached, id)
	}
	if m.room == "" {
		hadPending := m.pending != ""
		m.pending = ""
		c.mu.Unlock()
		if hadPending {
			return nil
		}
		return errs.NewError("leave room", errs.ErrNotInRoom)
	}

	roomID := m.room
	c.registry.Leave(roomID, id)
	m.room = ""

	var toClose []closing
	var peers []string
	for remote, l := range m.links {
		toClose = append(toClose, closing{l, peer.ReasonHangup})
		peers = append(peers, remote)
		if rm, ok := c.members[remote]; ok {
			if rl, ok := rm.links[id]; ok {
				toClose = append(toClose, closing{rl, peer.ReasonRemoteLeft})
				delete(rm.links, id)
			}
		}
	}
	m.links = make(map[string]*peer.Link)
	ch := m.endpoint.Channel
	controller := m.media
	c.mu.Unlock()

	for _, cl := range toClose {
		cl.link.Close(cl.reason)
	}
	for _, remote := range peers {
		if err := ch.Send(signaling.Envelope{Type: signaling.TypeLeave, From: id, To: remote}); err != nil {
			c.log.Debug("leave notice not delivered", "to", remote, "error", err)
		}
	}
	controller.StopScreenShare()

	c.log.Info("participant left room", "room", roomID, "participant", id)
	c.emitSnapshot(roomID)
	return nil
}

// dispatch routes an inbound envelope to the link it belongs to.
// Envelopes for links that no longer exist are dropped.
func (c *Coordinator) dispatch(env signaling.Envelope) {
	if env.Type == signaling.TypeLeave {
		c.handleRemoteLeave(env)
		return
	}

	c.mu.Lock()
	var l *peer.Link
	if m, ok := c.members[env.To]; ok {
		l = m.links[env.From]
	}
	c.mu.Unlock()

	if l == nil {
		c.log.Debug("discarding envelope for unknown link", "envelope", env.String())
		return
	}
	if err := l.HandleEnvelope(env); err != nil {
		if errors.Is(err, errs.ErrStalePeerLink) {
			c.log.Debug("discarding envelope for closed link", "envelope", env.String())
			return
		}
		c.log.Warn("envelope rejected", "envelope", env.String(), "error", err)
	}
}

// handleRemoteLeave treats a LEAVE from a participant still sharing the
// recipient's room exactly like that participant calling LeaveRoom.
func (c *Coordinator) handleRemoteLeave(env signaling.Envelope) {
	c.mu.Lock()
	to, okTo := c.members[env.To]
	from, okFrom := c.members[env.From]
	sameRoom := okTo && okFrom && from.room != "" && from.room == to.room
	var l *peer.Link
	if okTo {
		l = to.links[env.From]
	}
	c.mu.Unlock()

	if sameRoom {
		if err := c.LeaveRoom(env.From); err != nil {
			c.log.Debug("remote leave", "participant", env.From, "error", err)
		}
		return
	}
	if l != nil {
		_ = l.HandleEnvelope(env)
	}
}

// linkChanged reports a link's new status and tears down both halves of
// a pair once either half closes.
func (c *Coordinator) linkChanged(tw *twins, st peer.Status) {
	var counterpart *peer.Link

	c.mu.Lock()
	name := ""
	if rm, ok := c.members[st.Remote]; ok {
		name = rm.participant.DisplayName
	}
	if st.State == peer.StateClosed {
		self, other := tw.self(st), tw.other(st)
		if m, ok := c.members[st.Local]; ok && m.links[st.Remote] == self {
			delete(m.links, st.Remote)
		}
		if rm, ok := c.members[st.Remote]; ok && other != nil && rm.links[st.Local] == other {
			delete(rm.links, st.Local)
			counterpart = other
		}
	}
	c.mu.Unlock()

	c.emit(peerUpdate(st, name))

	if counterpart != nil {
		reason := st.Reason
		if reason == peer.ReasonHangup {
			reason = peer.ReasonRemoteLeft
		}
		counterpart.Close(reason)
	}
}

func (c *Coordinator) bindings(id string) []media.Binding {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.members[id]
	if !ok {
		return nil
	}
	out := make([]media.Binding, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

// Chat broadcasts a message to everyone in the sender's room.
func (c *Coordinator) Chat(id, content string) (ChatMessage, error) {
	c.mu.Lock()
	m, ok := c.members[id]
	if !ok {
		c.mu.Unlock()
		return ChatMessage{}, errs.WrapError("chat", errs.ErrNotAttached, id)
	}
	if m.room == "" {
		c.mu.Unlock()
		return ChatMessage{}, errs.NewError("chat", errs.ErrNotInRoom)
	}
	msg := ChatMessage{
		ID:        c.ids.Allocate(),
		RoomID:    m.room,
		Sender:    m.participant,
		Content:   content,
		Timestamp: time.Now(),
	}
	c.mu.Unlock()

	members, err := c.registry.Members(msg.RoomID)
	if err != nil {
		return ChatMessage{}, err
	}
	msg.to = members
	c.emit(msg)
	return msg, nil
}

func (c *Coordinator) emitSnapshot(roomID string) {
	snap, err := c.Snapshot(roomID)
	if err != nil {
		return
	}
	c.emit(snap)
}

// Snapshot returns the members of a room in join order.
func (c *Coordinator) Snapshot(roomID string) (RoomSnapshot, error) {
	ids, err := c.registry.Members(roomID)
	if err != nil {
		return RoomSnapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := RoomSnapshot{RoomID: roomID, Members: make([]Participant, 0, len(ids))}
	for _, id := range ids {
		p := Participant{ID: id}
		if m, ok := c.members[id]; ok {
			p = m.participant
		}
		snap.Members = append(snap.Members, p)
	}
	return snap, nil
}

// Links returns the status of every live link owned by participant id,
// ordered by remote ID.
func (c *Coordinator) Links(id string) []peer.Status {
	c.mu.Lock()
	m, ok := c.members[id]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	links := make([]*peer.Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	c.mu.Unlock()

	out := make([]peer.Status, 0, len(links))
	for _, l := range links {
		out = append(out, l.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Remote < out[j].Remote })
	return out
}

// Link returns the live link from local to remote, if any.
func (c *Coordinator) Link(local, remote string) (*peer.Link, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.members[local]
	if !ok {
		return nil, false
	}
	l, ok := m.links[remote]
	return l, ok
}

// Media returns the participant's media controller.
func (c *Coordinator) Media(id string) (*media.Controller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.members[id]
	if !ok {
		return nil, errs.WrapError("media", errs.ErrNotAttached, id)
	}
	return m.media, nil
}

// RoomOf returns the room the participant is currently in.
func (c *Coordinator) RoomOf(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.members[id]
	if !ok || m.room == "" {
		return "", false
	}
	return m.room, true
}

// Participant returns the attached participant with the given ID.
func (c *Coordinator) Participant(id string) (Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.members[id]
	if !ok {
		return Participant{}, false
	}
	return m.participant, true
}

func (c *Coordinator) Rooms() []room.Summary {
	return c.registry.Rooms()
}

func (c *Coordinator) RoomLink(roomID string) string {
	return RoomLink(c.origin, roomID)
}
