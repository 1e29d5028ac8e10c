package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aidenletourneau/scrapyard_server/internal/auth"
	"github.com/aidenletourneau/scrapyard_server/internal/models"
	"github.com/aidenletourneau/scrapyard_server/internal/protocol"
	"github.com/aidenletourneau/scrapyard_server/internal/registry"
	"github.com/aidenletourneau/scrapyard_server/internal/store"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeStore struct {
	mu       sync.Mutex
	players  map[int64]models.Player
	channels map[int64][]int64
	joined   []int64
	left     []int64
}

func (s *fakeStore) LoadPlayer(ctx context.Context, userID int64) (models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[userID]
	if !ok {
		return models.Player{}, store.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) ChannelsForUser(ctx context.Context, userID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[userID], nil
}

func (s *fakeStore) AddChannelMember(ctx context.Context, channelID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = append(s.joined, channelID)
	return nil
}

func (s *fakeStore) RemoveChannelMember(ctx context.Context, channelID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = append(s.left, channelID)
	return nil
}

type recordingOutbox struct {
	mu     sync.Mutex
	frames [][]byte
}

func (o *recordingOutbox) Enqueue(frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames = append(o.frames, frame)
	return true
}

func (o *recordingOutbox) envelopes(t *testing.T) []protocol.ToSimulation {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []protocol.ToSimulation
	for _, f := range o.frames {
		env, err := protocol.DecodeToSimulation(f)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

type fixture struct {
	reg    *registry.Registry
	store  *fakeStore
	outbox *recordingOutbox
	server *Server
	url    string
}

func newFixture(t *testing.T, limit rate.Limit, burst int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		reg:    registry.NewRegistry(logger),
		store:  &fakeStore{players: map[int64]models.Player{}, channels: map[int64][]int64{}},
		outbox: &recordingOutbox{},
	}
	f.server = NewServer(f.reg, f.store, f.outbox, auth.NewHeaderResolver(),
		Options{SendBuffer: 16, ClientRate: limit, ClientBurst: burst}, logger)

	srv := httptest.NewServer(f.server.HandleWebSocket())
	t.Cleanup(srv.Close)
	f.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return f
}

func (f *fixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	return dial(t, f.url, userID)
}

func dial(t *testing.T, url, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("X-User-ID", userID)
	header.Set("X-User-Name", "scav-"+userID)
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) protocol.ClientMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg protocol.ClientMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestRejectsUnauthenticated(t *testing.T) {
	f := newFixture(t, 1000, 10)

	_, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFirstConnectionAddsPlayer(t *testing.T) {
	f := newFixture(t, 1000, 10)
	saved := models.NewPlayer(22, "old")
	saved.Actions.BattleCount = 7
	f.store.players[22] = saved
	f.store.channels[22] = []int64{5}

	f.dial(t, "22")

	require.Eventually(t, func() bool { return len(f.outbox.envelopes(t)) == 1 }, 2*time.Second, 10*time.Millisecond)
	add, ok := f.outbox.envelopes(t)[0].(protocol.AddUser)
	require.True(t, ok)
	assert.Equal(t, int64(7), add.Actions.BattleCount)
	assert.Equal(t, "scav-22", add.User.Username)
	assert.Equal(t, []int64{models.SystemChannel, models.GlobalChannel, 5}, f.reg.Subscriptions(22))
}

func TestLastDisconnectRemovesPlayer(t *testing.T) {
	f := newFixture(t, 1000, 10)

	a := f.dial(t, "7")
	b := f.dial(t, "7")
	require.Eventually(t, func() bool { return f.server.Online(7) == 2 }, 2*time.Second, 10*time.Millisecond)

	a.Close()
	require.Eventually(t, func() bool { return f.server.Online(7) == 1 }, 2*time.Second, 10*time.Millisecond)
	b.Close()
	require.Eventually(t, func() bool { return f.server.Online(7) == 0 }, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return len(f.outbox.envelopes(t)) == 2 }, 2*time.Second, 10*time.Millisecond)
	envs := f.outbox.envelopes(t)
	assert.IsType(t, protocol.AddUser{}, envs[0])
	assert.Equal(t, protocol.RemoveUser{UserID: 7}, envs[1])
	assert.Empty(t, f.reg.Addresses(7))
}

func TestSayReachesChannelMembers(t *testing.T) {
	f := newFixture(t, 1000, 10)
	alice := f.dial(t, "1")
	bob := f.dial(t, "2")
	require.Eventually(t, func() bool {
		return f.reg.IsMember(1, models.GlobalChannel) && f.reg.IsMember(2, models.GlobalChannel)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteJSON(protocol.ClientRequest{Op: protocol.OpSay, Channel: models.GlobalChannel, Text: "scrap at the dock"}))

	msg := readMessage(t, bob)
	assert.Equal(t, protocol.FrameChat, msg.Type)
	assert.Equal(t, int64(1), msg.From)
	assert.Equal(t, "scrap at the dock", msg.Message)
}

func TestJoinAndLeavePersist(t *testing.T) {
	f := newFixture(t, 1000, 10)
	ws := f.dial(t, "3")

	require.NoError(t, ws.WriteJSON(protocol.ClientRequest{Op: protocol.OpJoin, Channel: 9}))
	assert.Equal(t, "joined channel 9", readMessage(t, ws).Message)
	assert.True(t, f.reg.IsMember(3, 9))

	require.NoError(t, ws.WriteJSON(protocol.ClientRequest{Op: protocol.OpLeave, Channel: 9}))
	assert.Equal(t, "left channel 9", readMessage(t, ws).Message)
	assert.False(t, f.reg.IsMember(3, 9))

	require.NoError(t, ws.WriteJSON(protocol.ClientRequest{Op: protocol.OpLeave, Channel: models.GlobalChannel}))
	assert.Equal(t, protocol.FrameError, readMessage(t, ws).Type)
	assert.True(t, f.reg.IsMember(3, models.GlobalChannel))

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Equal(t, []int64{9}, f.store.joined)
	assert.Equal(t, []int64{9}, f.store.left)
}

func TestJoinRejectsWellKnownChannels(t *testing.T) {
	f := newFixture(t, 1000, 10)
	ws := f.dial(t, "8")

	for _, channelID := range []int64{models.SystemChannel, models.GlobalChannel, -3} {
		require.NoError(t, ws.WriteJSON(protocol.ClientRequest{Op: protocol.OpJoin, Channel: channelID}))
		msg := readMessage(t, ws)
		assert.Equal(t, protocol.FrameError, msg.Type, "channel %d", channelID)
		assert.Equal(t, channelID, msg.Channel)
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Empty(t, f.store.joined)
}

func TestRateLimitedFramesAreRejected(t *testing.T) {
	f := newFixture(t, 0.001, 1)
	ws := f.dial(t, "4")

	require.NoError(t, ws.WriteJSON(protocol.ClientRequest{Op: protocol.OpJoin, Channel: 11}))
	require.NoError(t, ws.WriteJSON(protocol.ClientRequest{Op: protocol.OpJoin, Channel: 12}))

	assert.Equal(t, "joined channel 11", readMessage(t, ws).Message)
	second := readMessage(t, ws)
	assert.Equal(t, protocol.FrameError, second.Type)
	assert.Equal(t, "slow down", second.Message)
}
