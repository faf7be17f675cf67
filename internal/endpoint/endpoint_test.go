package endpoint

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avanishpal143/meetify/internal/config"
	"github.com/avanishpal143/meetify/internal/coordinator"
	"github.com/avanishpal143/meetify/internal/gateway"
	"github.com/avanishpal143/meetify/internal/media"
	"github.com/avanishpal143/meetify/internal/server"
	"github.com/avanishpal143/meetify/internal/transport"
)

const waitFor = 10 * time.Second

func startServer(t *testing.T) *config.Config {
	t.Helper()
	s := server.New(&config.Config{Origin: "http://meet.test", NegotiationTimeout: -1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Hub.Run(ctx)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	// No ICE servers: the tests stay offline.
	return &config.Config{ServerURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"}
}

func connect(t *testing.T, cfg *config.Config, name string, mopts transport.MediaOptions) (*Endpoint, gateway.WelcomePayload) {
	t.Helper()
	e := New(Options{Config: cfg, Name: name, Media: mopts})
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	w, err := e.Connect(ctx)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, w
}

func waitUpdate(t *testing.T, e *Endpoint, typ string) *gateway.Message {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case msg, ok := <-e.Updates():
			require.True(t, ok, "connection closed waiting for %s", typ)
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s update", typ)
			return nil
		}
	}
}

func TestConnectWelcomes(t *testing.T) {
	cfg := startServer(t)

	alice, w := connect(t, cfg, "Alice", transport.MediaOptions{})
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, w.ID, alice.ID())
	assert.False(t, w.Media.ReceiveOnly)

	_, w = connect(t, cfg, "Bob", transport.MediaOptions{NoCamera: true})
	assert.True(t, w.Media.ReceiveOnly)
}

func TestTwoPartyCall(t *testing.T) {
	cfg := startServer(t)

	alice, _ := connect(t, cfg, "Alice", transport.MediaOptions{StreamID: "alice"})
	alice.CreateRoom()
	created := waitUpdate(t, alice, gateway.TypeRoomCreated)
	require.NotEmpty(t, created.RoomID)

	bob, _ := connect(t, cfg, "Bob", transport.MediaOptions{StreamID: "bob"})
	bob.JoinRoom(created.RoomID)
	joined := waitUpdate(t, bob, gateway.TypeJoinSuccess)
	assert.Equal(t, created.RoomID, joined.RoomID)

	assert.Eventually(t, func() bool {
		return alice.PeerCount() == 1 && bob.PeerCount() == 1
	}, waitFor, 20*time.Millisecond)

	track := waitUpdate(t, alice, TypeRemoteTrack)
	assert.Equal(t, bob.ID(), track.PeerID)
	var info TrackInfo
	require.NoError(t, track.DecodePayload(&info))
	assert.Contains(t, []string{"audio", "video"}, info.Kind)

	cam := bob.media.Source(media.Camera)
	require.NotNil(t, cam)
	bob.SetMuted(true)
	bob.SetVideoEnabled(false)
	require.Eventually(t, func() bool {
		return !cam.Enabled(media.Audio) && !cam.Enabled(media.Video)
	}, waitFor, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	audio, video := cam.Sent(media.Audio), cam.Sent(media.Video)
	assert.Never(t, func() bool {
		return cam.Sent(media.Audio) != audio || cam.Sent(media.Video) != video
	}, 200*time.Millisecond, 20*time.Millisecond)

	bob.Chat("hello")
	msg := waitUpdate(t, alice, gateway.TypeChat)
	var chat coordinator.ChatMessage
	require.NoError(t, msg.DecodePayload(&chat))
	assert.Equal(t, "hello", chat.Content)
	assert.Equal(t, "Bob", chat.Sender.DisplayName)

	bob.LeaveRoom()
	waitUpdate(t, bob, gateway.TypeLeft)
	assert.Eventually(t, func() bool {
		return alice.PeerCount() == 0 && bob.PeerCount() == 0
	}, waitFor, 20*time.Millisecond)
}

func TestScreenShareRoundTrip(t *testing.T) {
	cfg := startServer(t)

	alice, _ := connect(t, cfg, "Alice", transport.MediaOptions{})
	alice.CreateRoom()
	waitUpdate(t, alice, gateway.TypeRoomCreated)

	alice.ShareScreen()
	msg := waitUpdate(t, alice, gateway.TypeMediaState)
	var state struct {
		SharingScreen bool `json:"sharing_screen"`
	}
	require.NoError(t, msg.DecodePayload(&state))
	assert.True(t, state.SharingScreen)

	alice.StopShare()
	msg = waitUpdate(t, alice, gateway.TypeMediaState)
	require.NoError(t, msg.DecodePayload(&state))
	assert.False(t, state.SharingScreen)
}

func TestScreenShareDenied(t *testing.T) {
	cfg := startServer(t)

	alice, _ := connect(t, cfg, "Alice", transport.MediaOptions{NoScreen: true})
	alice.ShareScreen()
	msg := waitUpdate(t, alice, gateway.TypeError)
	assert.Contains(t, msg.Error, "screen capture")
}
