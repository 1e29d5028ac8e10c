package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/aidenletourneau/scrapyard_server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return newTestStoreWithCache(t, 8)
}

func newTestStoreWithCache(t *testing.T, cacheSize int) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), cacheSize, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadPlayerNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadPlayer(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndLoadPlayer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := models.Player{
		User:      models.UserProfile{ID: 22, Username: "rust"},
		Resources: models.Resources{Metal: 3, Elec: 2, Bio: 1},
		Actions:   models.ActionMetadata{LastAction: models.ActionBattle, BattleCount: 7},
	}
	require.NoError(t, s.SavePlayer(ctx, p))

	got, err := s.LoadPlayer(ctx, 22)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	p.Actions.BattleCount = 8
	require.NoError(t, s.SavePlayer(ctx, p))
	got, err = s.LoadPlayer(ctx, 22)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.Actions.BattleCount)
}

func TestLoadPlayerResetsUnknownAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Run(ctx, `INSERT INTO players (id, username, last_action) VALUES (?, ?, ?)`, 9, "odd", "DANCE")
	require.NoError(t, err)

	got, err := s.LoadPlayer(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, models.ActionNone, got.Actions.LastAction)
}

func TestSavePlayersInOneTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	players := []models.Player{
		models.NewPlayer(1, "a"),
		models.NewPlayer(2, "b"),
	}
	players[1].Actions.BioCount = 5
	require.NoError(t, s.SavePlayers(ctx, players))
	require.NoError(t, s.SavePlayers(ctx, nil))

	got, err := s.LoadPlayer(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Actions.BioCount)
	assert.Equal(t, models.ActionNone, got.Actions.LastAction)
}

func TestChannelMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddChannelMember(ctx, 7, 5))
	require.NoError(t, s.AddChannelMember(ctx, 3, 5))
	require.NoError(t, s.AddChannelMember(ctx, 3, 5))
	require.NoError(t, s.AddChannelMember(ctx, 3, 6))

	channels, err := s.ChannelsForUser(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7}, channels)

	require.NoError(t, s.RemoveChannelMember(ctx, 3, 5))
	channels, err = s.ChannelsForUser(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, channels)
}

func TestQueriesGoThroughStatementCache(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ChannelsForUser(ctx, 1)
	require.NoError(t, err)
	assert.True(t, s.Statements().Contains(selectUserChannelsQuery))
	// migrations are never cached
	assert.False(t, s.Statements().Contains(migrations[0]))
}

// With room for one statement every query evicts the previous one while
// other goroutines may still be running it.
func TestConcurrentQueriesSurviveEviction(t *testing.T) {
	s := newTestStoreWithCache(t, 1)
	ctx := context.Background()

	g, gctx := errgroup.WithContext(ctx)
	for i := int64(1); i <= 8; i++ {
		i := i
		g.Go(func() error {
			for n := 0; n < 20; n++ {
				p := models.NewPlayer(i, "")
				p.Actions.MetalCount = int64(n)
				if err := s.SavePlayer(gctx, p); err != nil {
					return err
				}
				if _, err := s.LoadPlayer(gctx, i); err != nil {
					return err
				}
				if err := s.AddChannelMember(gctx, i+10, i); err != nil {
					return err
				}
				if _, err := s.ChannelsForUser(gctx, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, s.Statements().Len(), 1)

	got, err := s.LoadPlayer(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(19), got.Actions.MetalCount)
}

func TestRebindForPostgres(t *testing.T) {
	s := &Store{dbType: "postgres"}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	s.dbType = "sqlite"
	assert.Equal(t, "SELECT ?", s.rebind("SELECT ?"))
}
