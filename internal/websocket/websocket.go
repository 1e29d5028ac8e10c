package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aidenletourneau/scrapyard_server/internal/auth"
	"github.com/aidenletourneau/scrapyard_server/internal/models"
	"github.com/aidenletourneau/scrapyard_server/internal/protocol"
	"github.com/aidenletourneau/scrapyard_server/internal/registry"
	"github.com/aidenletourneau/scrapyard_server/internal/transport"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origin checks belong to the proxy that authenticates users
		return true
	},
}

// loadTimeout bounds the storage calls made while a connection is set up
const loadTimeout = 5 * time.Second

// DefaultSaveWait is how long a reconnecting user waits for the save of
// its previous session
const DefaultSaveWait = 5 * time.Second

// Store is the storage the connection side needs
type Store interface {
	LoadPlayer(ctx context.Context, userID int64) (models.Player, error)
	ChannelsForUser(ctx context.Context, userID int64) ([]int64, error)
	AddChannelMember(ctx context.Context, channelID, userID int64) error
	RemoveChannelMember(ctx context.Context, channelID, userID int64) error
}

// Outbox carries envelopes to the simulation without blocking
type Outbox interface {
	Enqueue(frame []byte) bool
}

// Options tunes every connection
type Options struct {
	SendBuffer  int
	ClientRate  rate.Limit
	ClientBurst int
	SaveWait    time.Duration
}

// Server accepts client websockets and keeps the simulation's roster in
// step with who is online
type Server struct {
	reg      *registry.Registry
	store    Store
	toSim    Outbox
	resolver auth.Resolver
	opts     Options

	mu       sync.Mutex
	sessions map[int64]*session

	logger *slog.Logger
}

// NewServer creates the websocket side of the server
func NewServer(reg *registry.Registry, st Store, toSim Outbox, resolver auth.Resolver, opts Options, logger *slog.Logger) *Server {
	if opts.SaveWait <= 0 {
		opts.SaveWait = DefaultSaveWait
	}
	return &Server{
		reg:      reg,
		store:    st,
		toSim:    toSim,
		resolver: resolver,
		opts:     opts,
		sessions: make(map[int64]*session),
		logger:   logger.With(slog.String("component", "websocket")),
	}
}

// HandleWebSocket handles WebSocket connections
func (s *Server) HandleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.resolver.Resolve(r)
		if err != nil {
			s.logger.Warn("rejected websocket", slog.Any("error", err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("websocket upgrade failed", slog.Any("error", err))
			return
		}

		address := uuid.NewString()
		logger := s.logger.With(slog.Int64("userID", user.ID), slog.String("address", address))
		conn := transport.New(ws, s.opts.SendBuffer, logger)

		s.reg.Register(user.ID, address, conn)
		s.subscribe(r.Context(), user.ID, logger)
		s.connected(r.Context(), user, logger)
		conn.OnClose(func() {
			s.disconnected(user.ID, logger)
		})
		logger.Info("client connected")

		limiter := rate.NewLimiter(s.opts.ClientRate, s.opts.ClientBurst)
		frames := &frameHandler{server: s, user: user, conn: conn, limiter: limiter, logger: logger}
		conn.Run(frames.handle)
		logger.Info("client disconnected")
	}
}

// subscribe puts the user in the well-known channels and the channels it
// joined in earlier sessions
func (s *Server) subscribe(ctx context.Context, userID int64, logger *slog.Logger) {
	s.reg.AddUserToChannel(userID, models.SystemChannel)
	s.reg.AddUserToChannel(userID, models.GlobalChannel)

	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	channels, err := s.store.ChannelsForUser(ctx, userID)
	if err != nil {
		logger.Error("failed to load channel memberships", slog.Any("error", err))
		return
	}
	for _, channelID := range channels {
		s.reg.AddUserToChannel(userID, channelID)
	}
}

// send hands an envelope to the simulation and reports whether it was taken
func (s *Server) send(env protocol.ToSimulation, logger *slog.Logger) bool {
	frame, err := protocol.EncodeToSimulation(env)
	if err != nil {
		logger.Error("failed to encode envelope", slog.Any("error", err))
		return false
	}
	if !s.toSim.Enqueue(frame) {
		logger.Error("simulation did not accept envelope")
		return false
	}
	return true
}

// StopSimulation asks the simulation to terminate
func (s *Server) StopSimulation() {
	s.send(protocol.Stop{}, s.logger)
}
