package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aidenletourneau/scrapyard_server/internal/models"
	"github.com/aidenletourneau/scrapyard_server/internal/protocol"
)

// ErrStopped is returned by Run after a SHUTDOWN command
var ErrStopped = errors.New("simulation: stopped by command")

// DefaultPeriod is the nominal time between ticks
const DefaultPeriod = 5000 * time.Millisecond

// Outbox accepts encoded envelopes for the connection side without blocking
type Outbox interface {
	Enqueue(frame []byte) bool
}

// Config controls the tick loop
type Config struct {
	Period        time.Duration
	AutosaveTicks int // emit SAVE_ALL every N ticks, 0 disables
}

// Stats describes tick timing
type Stats struct {
	Ticks          uint64
	Overruns       uint64
	OverrunStreak  int
	MaxStreak      int
	LastOverrun    time.Duration
	LastTickLength time.Duration
}

// Simulation owns the roster and advances it on a fixed period. All of its
// state is touched only by the goroutine running Run.
type Simulation struct {
	roster   *Roster
	cfg      Config
	inbox    <-chan []byte
	outbox   Outbox
	commands commandHandler
	stopped  bool
	stats    Stats
	now      func() time.Time

	logger *slog.Logger
}

// New creates a simulation reading commands from inbox and writing
// envelopes to outbox
func New(cfg Config, inbox <-chan []byte, outbox Outbox, logger *slog.Logger) *Simulation {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	s := &Simulation{
		roster: NewRoster(),
		cfg:    cfg,
		inbox:  inbox,
		outbox: outbox,
		now:    time.Now,
		logger: logger.With(slog.String("component", "simulation")),
	}
	s.commands = commandHandler{s: s}
	return s
}

// Roster exposes the roster for inspection
func (s *Simulation) Roster() *Roster {
	return s.roster
}

// Stats returns tick timing counters
func (s *Simulation) Stats() Stats {
	return s.stats
}

// AddPlayer puts the player described by cmd on the roster. A player that
// is already present is replaced in place.
func (s *Simulation) AddPlayer(cmd protocol.AddUser) {
	p := cmd.Player()
	if h, ok := s.roster.Lookup(p.User.ID); ok {
		if existing, ok := s.roster.Get(h); ok {
			s.logger.Warn("player already on roster, replacing", slog.Int64("userID", p.User.ID))
			*existing = p
			return
		}
		s.logger.Error("id index points at a removed player", slog.Int64("userID", p.User.ID))
		s.roster.Unindex(p.User.ID)
	}

	s.roster.Insert(p)
	s.logger.Info("player added", slog.Int64("userID", p.User.ID), slog.Int("roster", s.roster.Len()))
	s.emit(protocol.Global{Message: fmt.Sprintf("%s entered the scrapyard", displayName(p.User))})
}

// RemovePlayer takes a player off the roster and returns it so it can be
// saved. It returns false if the id is unknown.
func (s *Simulation) RemovePlayer(cmd protocol.RemoveUser) (models.Player, bool) {
	h, ok := s.roster.Lookup(cmd.UserID)
	if !ok {
		s.logger.Warn("remove for player not on roster", slog.Int64("userID", cmd.UserID))
		return models.Player{}, false
	}

	if n := s.roster.CountID(cmd.UserID); n != 1 {
		s.logger.Error("roster holds unexpected number of entries for player",
			slog.Int64("userID", cmd.UserID), slog.Int("entries", n))
	}

	p, ok := s.roster.Remove(h)
	if !ok {
		s.logger.Error("id index points at a removed player", slog.Int64("userID", cmd.UserID))
		s.roster.Unindex(cmd.UserID)
		return models.Player{}, false
	}

	s.logger.Info("player removed", slog.Int64("userID", cmd.UserID), slog.Int("roster", s.roster.Len()))
	return p, true
}

// Tick advances every player by one step of its last action
func (s *Simulation) Tick() {
	s.roster.Each(func(p *models.Player) {
		switch p.Actions.LastAction {
		case models.ActionNone:
		case models.ActionBattle:
			p.Actions.BattleCount++
		case models.ActionMetalScrap:
			p.Actions.MetalCount++
		case models.ActionElecScrap:
			p.Actions.ElecCount++
		case models.ActionBioScrap:
			p.Actions.BioCount++
		default:
			s.logger.Error("corrupted last action, resetting",
				slog.Int64("userID", p.User.ID), slog.String("action", string(p.Actions.LastAction)))
			p.Actions.LastAction = models.ActionNone
		}
	})
}

// step runs one tick and the autosave that may follow it
func (s *Simulation) step() {
	s.Tick()
	s.stats.Ticks++

	if s.cfg.AutosaveTicks > 0 && s.stats.Ticks%uint64(s.cfg.AutosaveTicks) == 0 && s.roster.Len() > 0 {
		s.emit(protocol.SaveAll{Players: s.roster.Snapshot()})
	}
}

// recordTick updates timing stats and returns how long to wait before the
// next tick. An overrun tick is followed immediately by the next one; the
// schedule re-anchors and missed time is not caught up.
func (s *Simulation) recordTick(elapsed time.Duration) time.Duration {
	s.stats.LastTickLength = elapsed
	wait := s.cfg.Period - elapsed
	if wait > 0 {
		s.stats.OverrunStreak = 0
		return wait
	}

	s.stats.Overruns++
	s.stats.OverrunStreak++
	s.stats.LastOverrun = elapsed
	if s.stats.OverrunStreak > s.stats.MaxStreak {
		s.stats.MaxStreak = s.stats.OverrunStreak
	}
	s.logger.Warn("tick overran its period",
		slog.Duration("elapsed", elapsed), slog.Duration("period", s.cfg.Period), slog.Int("streak", s.stats.OverrunStreak))
	return 0
}

// Run processes commands and ticks until ctx is done, the inbox closes, or
// a SHUTDOWN command arrives. Nothing is drained on exit.
func (s *Simulation) Run(ctx context.Context) error {
	s.logger.Info("simulation started", slog.Duration("period", s.cfg.Period))
	s.emit(protocol.System{Message: "simulation online"})
	defer func() {
		s.emit(protocol.Shutdown{})
		s.logger.Info("simulation stopped", slog.Uint64("ticks", s.stats.Ticks))
	}()

	timer := time.NewTimer(s.cfg.Period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-s.inbox:
			if !ok {
				return nil
			}
			s.handle(frame)
			if s.stopped {
				return ErrStopped
			}
		case <-timer.C:
			start := s.now()
			s.step()
			timer.Reset(s.recordTick(s.now().Sub(start)))
		}
	}
}

// handle decodes and applies one command. Bad frames are logged and dropped.
func (s *Simulation) handle(frame []byte) {
	env, err := protocol.DecodeToSimulation(frame)
	if err != nil {
		s.logger.Error("dropping envelope", slog.Any("error", err))
		return
	}
	protocol.DispatchToSimulation(env, s.commands)
}

// emit encodes env and hands it to the outbox
func (s *Simulation) emit(env protocol.ToClient) {
	frame, err := protocol.EncodeToClient(env)
	if err != nil {
		s.logger.Error("failed to encode envelope", slog.Any("error", err))
		return
	}
	s.outbox.Enqueue(frame)
}

func displayName(u models.UserProfile) string {
	if u.Username != "" {
		return u.Username
	}
	return fmt.Sprintf("player %d", u.ID)
}

// commandHandler applies ToSimulation envelopes
type commandHandler struct {
	s *Simulation
}

func (h commandHandler) Noop() {}

func (h commandHandler) AddUser(cmd protocol.AddUser) {
	h.s.AddPlayer(cmd)
}

func (h commandHandler) RemoveUser(cmd protocol.RemoveUser) {
	p, ok := h.s.RemovePlayer(cmd)
	if !ok {
		return
	}
	h.s.emit(protocol.SaveSingle{Player: p})
	h.s.emit(protocol.Global{Message: fmt.Sprintf("%s left the scrapyard", displayName(p.User))})
}

func (h commandHandler) Stop(protocol.Stop) {
	h.s.logger.Info("shutdown requested")
	h.s.stopped = true
}

func (h commandHandler) Connect(cmd protocol.Connect) {
	h.s.logger.Debug("ignoring CONNECT", slog.Int64("userID", cmd.UserID))
}

func (h commandHandler) Disconnect(cmd protocol.Disconnect) {
	h.s.logger.Debug("ignoring DISCONNECT", slog.Int64("userID", cmd.UserID))
}
