package protocol

import (
	"encoding/json"
	"testing"

	"github.com/aidenletourneau/scrapyard_server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder notes which handler method ran
type recorder struct {
	calls []string
}

func (r *recorder) Noop() { r.calls = append(r.calls, "noop") }
func (r *recorder) AddUser(AddUser) { r.calls = append(r.calls, "add") }
func (r *recorder) RemoveUser(RemoveUser) { r.calls = append(r.calls, "remove") }
func (r *recorder) Stop(Stop) { r.calls = append(r.calls, "stop") }
func (r *recorder) Connect(Connect) { r.calls = append(r.calls, "connect") }
func (r *recorder) Disconnect(Disconnect) { r.calls = append(r.calls, "disconnect") }
func (r *recorder) Shutdown(Shutdown) { r.calls = append(r.calls, "shutdown") }
func (r *recorder) SaveSingle(SaveSingle) { r.calls = append(r.calls, "save-single") }
func (r *recorder) SaveAll(SaveAll) { r.calls = append(r.calls, "save-all") }
func (r *recorder) System(System) { r.calls = append(r.calls, "system") }
func (r *recorder) Global(Global) { r.calls = append(r.calls, "global") }

func TestAddUserWireShape(t *testing.T) {
	p := models.NewPlayer(22, "rust")
	p.Actions.LastAction = models.ActionBattle

	frame, err := EncodeToSimulation(NewAddUser(p))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(frame, &raw))
	assert.Equal(t, "INTERNAL", raw["type"])
	assert.Equal(t, "ADD_USER", raw["command"])
	assert.Contains(t, raw, "user")
	assert.Contains(t, raw, "resources")
	assert.Contains(t, raw, "actions")

	got, err := DecodeToSimulation(frame)
	require.NoError(t, err)
	assert.Equal(t, p, got.(AddUser).Player())
}

func TestEveryToSimulationVariantDispatches(t *testing.T) {
	envs := []ToSimulation{
		Noop{},
		NewAddUser(models.NewPlayer(1, "")),
		RemoveUser{UserID: 1},
		Stop{},
		Connect{UserID: 1},
		Disconnect{UserID: 1},
	}
	rec := &recorder{}
	for _, env := range envs {
		frame, err := EncodeToSimulation(env)
		require.NoError(t, err)
		decoded, err := DecodeToSimulation(frame)
		require.NoError(t, err)
		assert.Equal(t, env, decoded)
		DispatchToSimulation(decoded, rec)
	}
	assert.Equal(t, []string{"noop", "add", "remove", "stop", "connect", "disconnect"}, rec.calls)
}

func TestEveryToClientVariantDispatches(t *testing.T) {
	envs := []ToClient{
		Noop{},
		Shutdown{},
		SaveSingle{Player: models.NewPlayer(2, "x")},
		SaveAll{Players: []models.Player{models.NewPlayer(2, "x")}},
		System{Message: "simulation online"},
		Global{Message: "hello"},
	}
	rec := &recorder{}
	for _, env := range envs {
		frame, err := EncodeToClient(env)
		require.NoError(t, err)
		decoded, err := DecodeToClient(frame)
		require.NoError(t, err)
		assert.Equal(t, env, decoded)
		DispatchToClient(decoded, rec)
	}
	assert.Equal(t, []string{"noop", "shutdown", "save-single", "save-all", "system", "global"}, rec.calls)
}

func TestEmptySaveAllDecodes(t *testing.T) {
	frame, err := EncodeToClient(SaveAll{Players: []models.Player{}})
	require.NoError(t, err)

	got, err := DecodeToClient(frame)
	require.NoError(t, err)
	assert.Empty(t, got.(SaveAll).Players)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		client bool
		want   error
	}{
		{"unknown type", `{"type":"TELEPORT"}`, false, ErrUnknownType},
		{"unknown command", `{"type":"INTERNAL","command":"EXPLODE"}`, false, ErrUnknownCommand},
		{"save command sent to simulation", `{"type":"INTERNAL","command":"SAVE_ALL"}`, false, ErrUnknownCommand},
		{"add user without payload", `{"type":"INTERNAL","command":"ADD_USER"}`, false, ErrMissingPayload},
		{"remove user without id", `{"type":"INTERNAL","command":"REMOVE_USER"}`, false, ErrMissingPayload},
		{"connect without id", `{"type":"CONNECT"}`, false, ErrMissingPayload},
		{"system without message", `{"type":"SYSTEM"}`, true, ErrMissingPayload},
		{"connect sent to client", `{"type":"CONNECT","userId":1}`, true, ErrUnknownType},
		{"add user sent to client", `{"type":"INTERNAL","command":"ADD_USER"}`, true, ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.client {
				_, err = DecodeToClient([]byte(tt.frame))
			} else {
				_, err = DecodeToSimulation([]byte(tt.frame))
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeToSimulation([]byte(`{"type":`))
	assert.Error(t, err)
	_, err = DecodeToClient([]byte(`[]`))
	assert.Error(t, err)
}

func TestParseClientRequest(t *testing.T) {
	req, err := ParseClientRequest([]byte(`{"op":"say","channel":1,"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, ClientRequest{Op: OpSay, Channel: 1, Text: "hi"}, req)

	_, err = ParseClientRequest([]byte(`{"op":"say","channel":1}`))
	assert.ErrorIs(t, err, ErrMissingPayload)

	_, err = ParseClientRequest([]byte(`{"op":"dance"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}
