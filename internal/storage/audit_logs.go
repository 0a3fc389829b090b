package storage

import (
	"context"
	"fmt"
	"time"
)

type AuditLog struct {
	ID             string
	GuildID        string
	UserID         string
	Actor          string
	Level          string
	Action         string
	Reasons        string
	ViolationCount int
	Outcome        string
	Details        string
	CreatedAt      time.Time
}

type auditRow struct {
	ID             string `db:"id"`
	GuildID        string `db:"guild_id"`
	UserID         string `db:"user_id"`
	Actor          string `db:"actor"`
	Level          string `db:"level"`
	Action         string `db:"action"`
	Reasons        string `db:"reasons"`
	ViolationCount int    `db:"violation_count"`
	Outcome        string `db:"outcome"`
	Details        string `db:"details"`
	CreatedAt      int64  `db:"created_at"`
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO audit_logs (id, guild_id, user_id, actor, level, action, reasons, violation_count, outcome, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), log.ID, log.GuildID, log.UserID, log.Actor, log.Level, log.Action, log.Reasons, log.ViolationCount, log.Outcome, log.Details, unix(log.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, guild_id, user_id, actor, level, action, reasons, violation_count, outcome, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`), guildID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}

	logs := make([]AuditLog, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, AuditLog{
			ID:             row.ID,
			GuildID:        row.GuildID,
			UserID:         row.UserID,
			Actor:          row.Actor,
			Level:          row.Level,
			Action:         row.Action,
			Reasons:        row.Reasons,
			ViolationCount: row.ViolationCount,
			Outcome:        row.Outcome,
			Details:        row.Details,
			CreatedAt:      time.Unix(row.CreatedAt, 0),
		})
	}
	return logs, nil
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM audit_logs WHERE created_at < ?`), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup audit logs: %w", err)
	}
	return result.RowsAffected()
}
