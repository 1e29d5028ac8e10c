package store

import (
	"context"
	"fmt"
	"log/slog"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS players (
		id BIGINT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		metal BIGINT NOT NULL DEFAULT 0,
		elec BIGINT NOT NULL DEFAULT 0,
		bio BIGINT NOT NULL DEFAULT 0,
		last_action TEXT NOT NULL DEFAULT 'NONE',
		battle_count BIGINT NOT NULL DEFAULT 0,
		metal_count BIGINT NOT NULL DEFAULT 0,
		elec_count BIGINT NOT NULL DEFAULT 0,
		bio_count BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS channel_members (
		channel_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		PRIMARY KEY (channel_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS channel_members_user ON channel_members (user_id)`,
}

// migrate runs every migration once through uncached statements.
// Any failure aborts startup.
func (s *Store) migrate(ctx context.Context) error {
	for i, query := range migrations {
		stmt := s.stmts.CreateOnce(ctx, query)
		if stmt == nil {
			return fmt.Errorf("migration %d did not compile", i)
		}
		_, err := stmt.ExecContext(ctx)
		stmt.Close()
		if err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	s.logger.Info("migrations applied", slog.Int("count", len(migrations)))
	return nil
}
