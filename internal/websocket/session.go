package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aidenletourneau/scrapyard_server/internal/models"
	"github.com/aidenletourneau/scrapyard_server/internal/protocol"
	"github.com/aidenletourneau/scrapyard_server/internal/store"
)

// session tracks one user across its connections.
//
// mu serializes the ADD_USER/REMOVE_USER sequence of this user only, so
// storage calls for one user never hold up another. conns, saved and refs
// are guarded by Server.mu.
type session struct {
	mu    sync.Mutex
	conns int
	saved chan struct{} // closed once the save after the last REMOVE_USER lands
	refs  int
}

// acquire returns the locked session of userID, creating it if needed
func (s *Server) acquire(userID int64) *session {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{}
		s.sessions[userID] = sess
	}
	sess.refs++
	s.mu.Unlock()

	sess.mu.Lock()
	return sess
}

// release unlocks sess and forgets it once nothing refers to it
func (s *Server) release(userID int64, sess *session) {
	sess.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	sess.refs--
	if sess.refs == 0 && sess.conns == 0 && sess.saved == nil {
		delete(s.sessions, userID)
	}
}

// connected counts a new connection and, for the user's first one, asks the
// simulation to put the player on the roster. A save still in flight from
// the user's previous session is waited for, so the load sees it.
func (s *Server) connected(ctx context.Context, user models.UserProfile, logger *slog.Logger) {
	sess := s.acquire(user.ID)
	defer s.release(user.ID, sess)

	s.mu.Lock()
	sess.conns++
	first := sess.conns == 1
	pending := sess.saved
	s.mu.Unlock()
	if !first {
		return
	}

	if pending != nil {
		s.awaitSave(ctx, sess, pending, logger)
	}

	loadCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()
	player, err := s.store.LoadPlayer(loadCtx, user.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		player = models.NewPlayer(user.ID, user.Username)
	case err != nil:
		logger.Error("failed to load player, starting fresh", slog.Any("error", err))
		player = models.NewPlayer(user.ID, user.Username)
	}
	if user.Username != "" {
		player.User.Username = user.Username
	}

	s.send(protocol.NewAddUser(player), logger)
}

// awaitSave blocks until pending is closed or the wait times out
func (s *Server) awaitSave(ctx context.Context, sess *session, pending chan struct{}, logger *slog.Logger) {
	timer := time.NewTimer(s.opts.SaveWait)
	defer timer.Stop()

	select {
	case <-pending:
		return
	case <-timer.C:
		logger.Warn("previous session was not saved in time, loading stored record", slog.Duration("waited", s.opts.SaveWait))
	case <-ctx.Done():
	}

	s.mu.Lock()
	if sess.saved == pending {
		sess.saved = nil
	}
	s.mu.Unlock()
}

// disconnected forgets a connection and, once the user has none left, asks
// the simulation to drop the player
func (s *Server) disconnected(userID int64, logger *slog.Logger) {
	sess := s.acquire(userID)
	defer s.release(userID, sess)

	s.mu.Lock()
	sess.conns--
	last := sess.conns <= 0
	if last {
		sess.conns = 0
		sess.saved = make(chan struct{})
	}
	s.mu.Unlock()
	if !last {
		return
	}

	if !s.send(protocol.RemoveUser{UserID: userID}, logger) {
		// no save will follow
		s.PlayerSaved(userID)
	}
}

// PlayerSaved reports that the player snapshot taken when the user left
// has been written. A reconnect waiting on it may now load the player.
func (s *Server) PlayerSaved(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok || sess.saved == nil {
		return
	}
	close(sess.saved)
	sess.saved = nil
	if sess.refs == 0 && sess.conns == 0 {
		delete(s.sessions, userID)
	}
}

// savePending reports whether a save from the user's last session is
// still outstanding
func (s *Server) savePending(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return ok && sess.saved != nil
}

// Online reports how many live connections a user has
func (s *Server) Online(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[userID]; ok {
		return sess.conns
	}
	return 0
}
