package analytics

import (
	"context"
	"sort"
	"strings"
	"time"

	"sentinel-antispam/internal/storage"
)

type AuditSource interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
}

type Service struct {
	store AuditSource
}

func New(store AuditSource) *Service {
	return &Service{store: store}
}

type UserCount struct {
	UserID string
	Count  int
}

type Report struct {
	Total          int
	ByLevel        map[string]int
	ByAction       map[string]int
	PartialFailure int
	TopOffenders   []UserCount
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByLevel: make(map[string]int), ByAction: make(map[string]int)}
	perUser := make(map[string]int)
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByAction[log.Action]++
		if strings.HasPrefix(log.Outcome, "partial_failure") {
			report.PartialFailure++
		}
		if log.UserID != "" && log.ViolationCount > 0 {
			perUser[log.UserID]++
		}
	}

	for userID, count := range perUser {
		report.TopOffenders = append(report.TopOffenders, UserCount{UserID: userID, Count: count})
	}
	sort.Slice(report.TopOffenders, func(i, j int) bool {
		if report.TopOffenders[i].Count != report.TopOffenders[j].Count {
			return report.TopOffenders[i].Count > report.TopOffenders[j].Count
		}
		return report.TopOffenders[i].UserID < report.TopOffenders[j].UserID
	})
	if len(report.TopOffenders) > 5 {
		report.TopOffenders = report.TopOffenders[:5]
	}
	return report, nil
}
