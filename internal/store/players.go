package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aidenletourneau/scrapyard_server/internal/models"
)

const (
	selectPlayerQuery = `SELECT id, username, metal, elec, bio, last_action,
		battle_count, metal_count, elec_count, bio_count
		FROM players WHERE id = ?`

	upsertPlayerQuery = `INSERT INTO players (id, username, metal, elec, bio, last_action,
		battle_count, metal_count, elec_count, bio_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			metal = excluded.metal,
			elec = excluded.elec,
			bio = excluded.bio,
			last_action = excluded.last_action,
			battle_count = excluded.battle_count,
			metal_count = excluded.metal_count,
			elec_count = excluded.elec_count,
			bio_count = excluded.bio_count`
)

// LoadPlayer returns the saved record of a user, or ErrNotFound
func (s *Store) LoadPlayer(ctx context.Context, userID int64) (models.Player, error) {
	row, err := s.GetOne(ctx, selectPlayerQuery, userID)
	if err != nil {
		return models.Player{}, err
	}

	var p models.Player
	var lastAction string
	err = row.Scan(
		&p.User.ID, &p.User.Username,
		&p.Resources.Metal, &p.Resources.Elec, &p.Resources.Bio,
		&lastAction,
		&p.Actions.BattleCount, &p.Actions.MetalCount, &p.Actions.ElecCount, &p.Actions.BioCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Player{}, ErrNotFound
	}
	if err != nil {
		return models.Player{}, fmt.Errorf("failed to load player %d: %w", userID, err)
	}
	p.Actions.LastAction = models.Action(lastAction)
	if !p.Actions.LastAction.Valid() {
		s.logger.Warn("stored player has unknown action, resetting",
			slog.Int64("userID", userID), slog.String("action", lastAction))
		p.Actions.LastAction = models.ActionNone
	}
	return p, nil
}

func upsertArgs(p models.Player) []any {
	return []any{
		p.User.ID, p.User.Username,
		p.Resources.Metal, p.Resources.Elec, p.Resources.Bio,
		string(p.Actions.LastAction),
		p.Actions.BattleCount, p.Actions.MetalCount, p.Actions.ElecCount, p.Actions.BioCount,
	}
}

// SavePlayer inserts or updates one player record
func (s *Store) SavePlayer(ctx context.Context, p models.Player) error {
	if _, err := s.Run(ctx, upsertPlayerQuery, upsertArgs(p)...); err != nil {
		return fmt.Errorf("failed to save player %d: %w", p.User.ID, err)
	}
	return nil
}

// SavePlayers writes every record in a single transaction
func (s *Store) SavePlayers(ctx context.Context, players []models.Player) error {
	if len(players) == 0 {
		return nil
	}

	stmt, release, err := s.statement(ctx, upsertPlayerQuery)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	txStmt := tx.StmtContext(ctx, stmt)
	defer txStmt.Close()

	for _, p := range players {
		if _, err := txStmt.ExecContext(ctx, upsertArgs(p)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to save player %d: %w", p.User.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit players: %w", err)
	}
	return nil
}
