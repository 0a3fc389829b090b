package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sentinel-antispam/internal/rules"
)

// LoadRules returns the guild's stored rule document. ok is false when the
// guild has never been configured.
func (s *Store) LoadRules(ctx context.Context, guildID string) (cfg rules.RuleConfig, ok bool, err error) {
	var document string
	err = s.db.GetContext(ctx, &document, s.db.Rebind(`SELECT document FROM guild_rules WHERE guild_id = ?`), guildID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rules.RuleConfig{}, false, nil
		}
		return rules.RuleConfig{}, false, fmt.Errorf("load rules for guild %s: %w", guildID, err)
	}

	cfg, err = rules.Unmarshal([]byte(document))
	if err != nil {
		return rules.RuleConfig{}, true, fmt.Errorf("decode rules for guild %s: %w", guildID, err)
	}
	return cfg, true, nil
}

func (s *Store) SaveRules(ctx context.Context, guildID string, cfg rules.RuleConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	document, err := rules.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode rules for guild %s: %w", guildID, err)
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO guild_rules (guild_id, document, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (guild_id) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`), guildID, string(document), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save rules for guild %s: %w", guildID, err)
	}
	return nil
}
