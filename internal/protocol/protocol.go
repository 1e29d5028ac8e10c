package protocol

import (
	"github.com/aidenletourneau/scrapyard_server/internal/models"
)

/*
Envelopes exchanged between the connection side and the simulation unit.

Each direction has its own closed set of variants. The set is sealed by
unexported methods, and every variant forwards itself to a handler method,
so adding a variant without a handler method fails to compile.

On the wire every envelope is a JSON object with a required "type" field.
INTERNAL envelopes carry a second discriminant, "command". Every other
field is variant payload.
*/

// Kind is the outer envelope tag
type Kind string

const (
	KindNone       Kind = "NONE"
	KindInternal   Kind = "INTERNAL"
	KindConnect    Kind = "CONNECT"
	KindDisconnect Kind = "DISCONNECT"
	KindSystem     Kind = "SYSTEM"
	KindGlobal     Kind = "GLOBAL"
)

// Command is the nested tag of INTERNAL envelopes
type Command string

const (
	CommandNone       Command = "NONE"
	CommandAddUser    Command = "ADD_USER"
	CommandRemoveUser Command = "REMOVE_USER"
	CommandShutdown   Command = "SHUTDOWN"
	CommandSaveSingle Command = "SAVE_SINGLE"
	CommandSaveAll    Command = "SAVE_ALL"
)

// ToSimulation is an envelope travelling from the connection side to the simulation
type ToSimulation interface {
	toWire() wire
	dispatchSimulation(SimulationHandler)
}

// ToClient is an envelope travelling from the simulation to the connection side
type ToClient interface {
	toWire() wire
	dispatchClient(ClientHandler)
}

// SimulationHandler receives every ToSimulation variant
type SimulationHandler interface {
	Noop()
	AddUser(AddUser)
	RemoveUser(RemoveUser)
	Stop(Stop)
	Connect(Connect)
	Disconnect(Disconnect)
}

// ClientHandler receives every ToClient variant
type ClientHandler interface {
	Noop()
	Shutdown(Shutdown)
	SaveSingle(SaveSingle)
	SaveAll(SaveAll)
	System(System)
	Global(Global)
}

// DispatchToSimulation hands env to the matching method of h
func DispatchToSimulation(env ToSimulation, h SimulationHandler) {
	env.dispatchSimulation(h)
}

// DispatchToClient hands env to the matching method of h
func DispatchToClient(env ToClient, h ClientHandler) {
	env.dispatchClient(h)
}

// Noop is the NONE envelope, valid in both directions
type Noop struct{}

func (Noop) toWire() wire { return wire{Type: KindNone} }
func (Noop) dispatchSimulation(h SimulationHandler) { h.Noop() }
func (Noop) dispatchClient(h ClientHandler) { h.Noop() }

// AddUser asks the simulation to put a player on the roster
type AddUser struct {
	User      models.UserProfile
	Resources models.Resources
	Actions   models.ActionMetadata
}

// NewAddUser builds an ADD_USER envelope from a player record
func NewAddUser(p models.Player) AddUser {
	return AddUser{User: p.User, Resources: p.Resources, Actions: p.Actions}
}

// Player returns the player described by the envelope
func (a AddUser) Player() models.Player {
	return models.Player{User: a.User, Resources: a.Resources, Actions: a.Actions}
}

func (a AddUser) toWire() wire {
	return wire{
		Type:      KindInternal,
		Command:   CommandAddUser,
		User:      &a.User,
		Resources: &a.Resources,
		Actions:   &a.Actions,
	}
}
func (a AddUser) dispatchSimulation(h SimulationHandler) { h.AddUser(a) }

// RemoveUser asks the simulation to drop a player and send it back for saving
type RemoveUser struct {
	UserID int64
}

func (r RemoveUser) toWire() wire {
	return wire{Type: KindInternal, Command: CommandRemoveUser, UserID: &r.UserID}
}
func (r RemoveUser) dispatchSimulation(h SimulationHandler) { h.RemoveUser(r) }

// Stop asks the simulation to terminate immediately
type Stop struct{}

func (Stop) toWire() wire { return wire{Type: KindInternal, Command: CommandShutdown} }
func (s Stop) dispatchSimulation(h SimulationHandler) { h.Stop(s) }

// Connect is reserved; the simulation does not act on it yet
type Connect struct {
	UserID int64
}

func (c Connect) toWire() wire { return wire{Type: KindConnect, UserID: &c.UserID} }
func (c Connect) dispatchSimulation(h SimulationHandler) { h.Connect(c) }

// Disconnect is reserved; the simulation does not act on it yet
type Disconnect struct {
	UserID int64
}

func (d Disconnect) toWire() wire { return wire{Type: KindDisconnect, UserID: &d.UserID} }
func (d Disconnect) dispatchSimulation(h SimulationHandler) { h.Disconnect(d) }

// Shutdown tells the connection side that the simulation has terminated
type Shutdown struct{}

func (Shutdown) toWire() wire { return wire{Type: KindInternal, Command: CommandShutdown} }
func (s Shutdown) dispatchClient(h ClientHandler) { h.Shutdown(s) }

// SaveSingle carries one player snapshot to be persisted
type SaveSingle struct {
	Player models.Player
}

func (s SaveSingle) toWire() wire {
	return wire{Type: KindInternal, Command: CommandSaveSingle, Player: &s.Player}
}
func (s SaveSingle) dispatchClient(h ClientHandler) { h.SaveSingle(s) }

// SaveAll carries snapshots of the whole roster
type SaveAll struct {
	Players []models.Player
}

func (s SaveAll) toWire() wire {
	return wire{Type: KindInternal, Command: CommandSaveAll, Players: s.Players}
}
func (s SaveAll) dispatchClient(h ClientHandler) { h.SaveAll(s) }

// System is a message for the system channel
type System struct {
	Message string
}

func (s System) toWire() wire { return wire{Type: KindSystem, Message: &s.Message} }
func (s System) dispatchClient(h ClientHandler) { h.System(s) }

// Global is a message for the global channel
type Global struct {
	Message string
}

func (g Global) toWire() wire { return wire{Type: KindGlobal, Message: &g.Message} }
func (g Global) dispatchClient(h ClientHandler) { h.Global(g) }
