package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const CategorySpam = "spam"

type UserInfraction struct {
	GuildID    string
	UserID     string
	Category   string
	CountTotal int
	LastAt     time.Time
	LastAction string
}

type infractionRow struct {
	GuildID    string `db:"guild_id"`
	UserID     string `db:"user_id"`
	Category   string `db:"category"`
	CountTotal int    `db:"count_total"`
	LastAt     int64  `db:"last_at"`
	LastAction string `db:"last_action"`
}

func (s *Store) GetInfraction(ctx context.Context, guildID, userID, category string) (UserInfraction, error) {
	var row infractionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT guild_id, user_id, category, count_total, last_at, last_action
		FROM user_infractions
		WHERE guild_id = ? AND user_id = ? AND category = ?
	`), guildID, userID, category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserInfraction{}, nil
		}
		return UserInfraction{}, fmt.Errorf("get infraction: %w", err)
	}
	return UserInfraction{
		GuildID:    row.GuildID,
		UserID:     row.UserID,
		Category:   row.Category,
		CountTotal: row.CountTotal,
		LastAt:     time.Unix(row.LastAt, 0),
		LastAction: row.LastAction,
	}, nil
}

// SetInfraction records the count reached by a user. The in-memory ledger is
// the source of truth; this table is history for audits.
func (s *Store) SetInfraction(ctx context.Context, inf UserInfraction) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO user_infractions (guild_id, user_id, category, count_total, last_at, last_action)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (guild_id, user_id, category) DO UPDATE SET
			count_total = excluded.count_total,
			last_at = excluded.last_at,
			last_action = CASE WHEN excluded.last_action = '' THEN user_infractions.last_action ELSE excluded.last_action END
	`), inf.GuildID, inf.UserID, inf.Category, inf.CountTotal, unix(inf.LastAt), inf.LastAction)
	if err != nil {
		return fmt.Errorf("set infraction: %w", err)
	}
	return nil
}

func (s *Store) ResetInfraction(ctx context.Context, guildID, userID, category string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM user_infractions WHERE guild_id = ? AND user_id = ? AND category = ?
	`), guildID, userID, category)
	if err != nil {
		return fmt.Errorf("reset infraction: %w", err)
	}
	return nil
}
