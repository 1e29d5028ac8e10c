package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/aidenletourneau/scrapyard_server/internal/models"
	"github.com/aidenletourneau/scrapyard_server/internal/protocol"
	"github.com/aidenletourneau/scrapyard_server/internal/queue"
)

// saveTimeout bounds one persistence call
const saveTimeout = 10 * time.Second

// Broadcaster fans a frame out to a channel's members
type Broadcaster interface {
	SendToChannel(channelID int64, msg []byte) bool
}

// PlayerStore persists player snapshots
type PlayerStore interface {
	SavePlayer(ctx context.Context, p models.Player) error
	SavePlayers(ctx context.Context, players []models.Player) error
}

// FrameSource delivers frames to a processor until ctx is done
type FrameSource interface {
	Process(ctx context.Context, processor queue.ProcessorFunc)
}

// Hooks are told about envelopes the connection side waits on. Nil hooks
// are skipped.
type Hooks struct {
	// Shutdown runs when the simulation reports that it has terminated
	Shutdown    func()
	// PlayerSaved runs once a SAVE_SINGLE has been handled, whether or not
	// the write succeeded
	PlayerSaved func(userID int64)
}

// Router applies envelopes coming back from the simulation on the
// connection side
type Router struct {
	channels Broadcaster
	players  PlayerStore
	hooks    Hooks
	logger   *slog.Logger
}

// New creates a router
func New(channels Broadcaster, players PlayerStore, hooks Hooks, logger *slog.Logger) *Router {
	return &Router{
		channels: channels,
		players:  players,
		hooks:    hooks,
		logger:   logger.With(slog.String("component", "router")),
	}
}

// Run routes frames from src until ctx is done
func (r *Router) Run(ctx context.Context, src FrameSource) error {
	r.logger.Info("router started")
	src.Process(ctx, func(frame []byte) {
		r.Route(ctx, frame)
	})
	r.logger.Info("router stopped")
	return nil
}

// Route decodes one frame and applies it. Bad frames are logged and dropped.
func (r *Router) Route(ctx context.Context, frame []byte) {
	env, err := protocol.DecodeToClient(frame)
	if err != nil {
		r.logger.Error("dropping envelope", slog.Any("error", err))
		return
	}
	protocol.DispatchToClient(env, handler{r: r, ctx: ctx})
}

func (r *Router) broadcast(channelID int64, frameType, message string) {
	msg, err := protocol.ClientMessage{Type: frameType, Channel: channelID, Message: message}.Encode()
	if err != nil {
		r.logger.Error("failed to encode client message", slog.Any("error", err))
		return
	}
	if !r.channels.SendToChannel(channelID, msg) {
		r.logger.Warn("broadcast to missing channel", slog.Int64("channelID", channelID))
	}
}

// saveContext outlives cancellation of ctx so a save already routed finishes
func saveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
}

// handler binds a router to the context of the frame being routed
type handler struct {
	r   *Router
	ctx context.Context
}

func (h handler) Noop() {}

func (h handler) Shutdown(protocol.Shutdown) {
	h.r.logger.Info("simulation reported shutdown")
	if h.r.hooks.Shutdown != nil {
		h.r.hooks.Shutdown()
	}
}

func (h handler) SaveSingle(cmd protocol.SaveSingle) {
	if h.r.hooks.PlayerSaved != nil {
		defer h.r.hooks.PlayerSaved(cmd.Player.User.ID)
	}
	ctx, cancel := saveContext(h.ctx)
	defer cancel()
	if err := h.r.players.SavePlayer(ctx, cmd.Player); err != nil {
		h.r.logger.Error("failed to save player", slog.Int64("userID", cmd.Player.User.ID), slog.Any("error", err))
		return
	}
	h.r.logger.Debug("player saved", slog.Int64("userID", cmd.Player.User.ID))
}

func (h handler) SaveAll(cmd protocol.SaveAll) {
	if len(cmd.Players) == 0 {
		return
	}
	ctx, cancel := saveContext(h.ctx)
	defer cancel()
	if err := h.r.players.SavePlayers(ctx, cmd.Players); err != nil {
		h.r.logger.Error("failed to save roster", slog.Int("players", len(cmd.Players)), slog.Any("error", err))
		return
	}
	h.r.logger.Debug("roster saved", slog.Int("players", len(cmd.Players)))
}

func (h handler) System(cmd protocol.System) {
	h.r.broadcast(models.SystemChannel, protocol.FrameSystem, cmd.Message)
}

func (h handler) Global(cmd protocol.Global) {
	h.r.broadcast(models.GlobalChannel, protocol.FrameGlobal, cmd.Message)
}
