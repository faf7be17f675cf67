package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/avanishpal143/meetify/internal/coordinator"
	"github.com/avanishpal143/meetify/internal/endpoint"
	"github.com/avanishpal143/meetify/internal/gateway"
	"github.com/avanishpal143/meetify/internal/media"
)

const chatHistory = 8

// Session is what the call view drives. *endpoint.Endpoint implements it.
type Session interface {
	ID() string
	Updates() <-chan *gateway.Message
	SetMuted(muted bool)
	SetVideoEnabled(enabled bool)
	ShareScreen()
	StopShare()
	EndCapture()
	SetName(name string)
	Chat(content string)
	LeaveRoom()
}

type updateMsg struct{ msg *gateway.Message }

type disconnectedMsg struct{}

// CallModel is the bubbletea model of an ongoing call.
type CallModel struct {
	session Session

	roomID  string
	link    string
	created bool
	status  string
	err     string

	media   media.State
	members []coordinator.Participant
	peers   map[string]coordinator.PeerUpdate
	tracks  map[string][]string
	chat    []coordinator.ChatMessage

	input    textinput.Model
	typing   bool
	naming   bool
	spinner  spinner.Model
	quitting bool
}

func NewCallModel(session Session, state media.State) *CallModel {
	in := textinput.New()
	in.Placeholder = "Say something"
	in.CharLimit = 500
	in.Width = 50

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		session: session,
		status:  "Connecting...",
		media:   state,
		peers:   make(map[string]coordinator.PeerUpdate),
		tracks:  make(map[string][]string),
		input:   in,
		spinner: s,
	}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForUpdates())
}

func (m *CallModel) listenForUpdates() tea.Cmd {
	updates := m.session.Updates()
	return func() tea.Msg {
		msg, ok := <-updates
		if !ok {
			return disconnectedMsg{}
		}
		return updateMsg{msg}
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.typing {
			return m.updateInput(msg)
		}
		return m.handleKey(msg)

	case updateMsg:
		m.apply(msg.msg)
		if msg.msg.Type == gateway.TypeJoinDeferred {
			return m, tea.Batch(m.promptName(), m.listenForUpdates())
		}
		return m, m.listenForUpdates()

	case disconnectedMsg:
		m.status = "Disconnected"
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *CallModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.session.LeaveRoom()
		m.quitting = true
		return m, tea.Quit
	case "m":
		m.media.Muted = !m.media.Muted
		m.session.SetMuted(m.media.Muted)
	case "v":
		m.media.VideoEnabled = !m.media.VideoEnabled
		m.session.SetVideoEnabled(m.media.VideoEnabled)
	case "s":
		m.session.ShareScreen()
	case "x":
		m.session.StopShare()
	case "e":
		m.session.EndCapture()
	case "/", "enter":
		m.typing = true
		return m, m.input.Focus()
	}
	return m, nil
}

// promptName turns the input into a display name prompt. The join
// completes once the name is sent.
func (m *CallModel) promptName() tea.Cmd {
	m.naming = true
	m.typing = true
	m.input.Reset()
	m.input.Placeholder = "Your name"
	return m.input.Focus()
}

func (m *CallModel) endInput() {
	m.input.Reset()
	m.input.Blur()
	m.input.Placeholder = "Say something"
	m.typing = false
	m.naming = false
}

func (m *CallModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		switch {
		case m.naming && text == "":
			return m, nil
		case m.naming:
			m.session.SetName(text)
			m.status = "Joining as " + text
		case text != "":
			m.session.Chat(text)
		}
		m.endInput()
		return m, nil
	case tea.KeyEsc:
		if m.naming {
			return m, nil
		}
		m.endInput()
		return m, nil
	case tea.KeyCtrlC:
		m.session.LeaveRoom()
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *CallModel) apply(msg *gateway.Message) {
	switch msg.Type {
	case gateway.TypeRoomCreated, gateway.TypeJoinSuccess:
		var p gateway.RoomPayload
		msg.DecodePayload(&p)
		m.roomID = msg.RoomID
		m.link = p.Link
		m.created = msg.Type == gateway.TypeRoomCreated
		m.status = "In call"
		m.err = ""

	case gateway.TypeJoinDeferred:
		m.status = IconWaiting + " Pick a display name to join"

	case gateway.TypeLeft:
		m.roomID = ""
		m.members = nil
		m.peers = make(map[string]coordinator.PeerUpdate)
		m.status = "Left the room"

	case gateway.TypeError:
		m.err = msg.Error

	case gateway.TypeMembers:
		var snap coordinator.RoomSnapshot
		if msg.DecodePayload(&snap) == nil {
			m.members = snap.Members
		}

	case gateway.TypePeerUpdate:
		var u coordinator.PeerUpdate
		if msg.DecodePayload(&u) != nil {
			return
		}
		if u.State == "closed" {
			delete(m.peers, u.PeerID)
			delete(m.tracks, u.PeerID)
			name := u.DisplayName
			if name == "" {
				name = u.PeerID
			}
			m.status = fmt.Sprintf("%s Link to %s closed (%s)", IconPeer, name, u.Reason)
			return
		}
		m.peers[u.PeerID] = u

	case gateway.TypeChat:
		var c coordinator.ChatMessage
		if msg.DecodePayload(&c) == nil {
			m.chat = append(m.chat, c)
			if len(m.chat) > chatHistory {
				m.chat = m.chat[len(m.chat)-chatHistory:]
			}
		}

	case gateway.TypeMediaState:
		msg.DecodePayload(&m.media)

	case endpoint.TypeRemoteTrack:
		var t endpoint.TrackInfo
		if msg.DecodePayload(&t) == nil {
			m.tracks[msg.PeerID] = append(m.tracks[msg.PeerID], t.Kind)
		}
	}
}

// rows lists members in join order, falling back to link order when no
// snapshot has arrived yet.
func (m *CallModel) rows() []MemberRow {
	self := m.session.ID()
	var rows []MemberRow
	seen := make(map[string]bool)
	for _, p := range m.members {
		seen[p.ID] = true
		rows = append(rows, m.row(p.ID, p.DisplayName, p.ID == self))
	}

	var extra []string
	for id := range m.peers {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		rows = append(rows, m.row(id, m.peers[id].DisplayName, false))
	}
	return rows
}

func (m *CallModel) row(id, name string, self bool) MemberRow {
	if name == "" {
		name = id
	}
	r := MemberRow{Name: name, Self: self}
	if self {
		r.State = "-"
		r.Source = "camera"
		if m.media.SharingScreen {
			r.Source = "screen"
		}
		if m.media.ReceiveOnly && !m.media.SharingScreen {
			r.Source = "none"
		}
		return r
	}
	u, ok := m.peers[id]
	if !ok {
		r.State = "waiting"
		return r
	}
	r.State = u.State
	r.Source = u.Source
	r.Tracks = strings.Join(m.tracks[id], ", ")
	return r
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render("Meetify") + "\n")

	if m.roomID != "" {
		b.WriteString(RoomInfoView(m.roomID, m.link, m.created) + "\n\n")
		b.WriteString(MembersView(m.rows()) + "\n\n")
	} else {
		b.WriteString(fmt.Sprintf("%s %s\n\n", m.spinner.View(), m.status))
	}

	b.WriteString(m.mediaLine() + "\n")
	if m.roomID != "" && m.status != "" {
		b.WriteString(MutedStyle.Render(m.status) + "\n")
	}
	if m.err != "" {
		b.WriteString(ErrorStyle.Render(IconError+" "+m.err) + "\n")
	}

	if len(m.chat) > 0 {
		b.WriteString("\n" + IconChat + " Chat\n")
		for _, c := range m.chat {
			name := c.Sender.DisplayName
			if name == "" {
				name = c.Sender.ID
			}
			b.WriteString(fmt.Sprintf("  %s %s\n", ChatSenderStyle.Render(name+":"), c.Content))
		}
	}

	switch {
	case m.naming:
		b.WriteString("\n" + m.input.View() + "\n")
		b.WriteString(FooterStyle.Render("enter join • ctrl+c quit"))
	case m.typing:
		b.WriteString("\n" + m.input.View() + "\n")
		b.WriteString(FooterStyle.Render("enter send • esc cancel"))
	default:
		b.WriteString(FooterStyle.Render("m mute • v video • s share • x stop share • e end capture • / chat • q leave"))
	}
	return b.String()
}

func (m *CallModel) mediaLine() string {
	mic := IconMic + " on"
	if m.media.Muted {
		mic = IconMicOff + " muted"
	}
	cam := IconCamera + " on"
	switch {
	case m.media.ReceiveOnly:
		cam = IconNoVideo + " receive-only"
	case !m.media.VideoEnabled:
		cam = IconNoVideo + " off"
	}
	line := mic + "   " + cam
	if m.media.SharingScreen {
		line += "   " + StatusStyle.Render(IconScreen+" sharing screen")
	}
	return line
}

// RunCall runs the call view until the user leaves or the connection ends.
func RunCall(session Session, state media.State) error {
	_, err := tea.NewProgram(NewCallModel(session, state)).Run()
	return err
}
