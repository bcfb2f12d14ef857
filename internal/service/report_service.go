package service

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/journal"
	"parking-service/internal/ledger"
	"parking-service/internal/model"
	"parking-service/internal/repository"
)

// Source tags which backend produced a report, so dashboards can flag
// degraded numbers computed from the journal.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

type Stats struct {
	Occupied          int64   `json:"occupied"`
	TodayRevenue      float64 `json:"today_revenue"`
	TodayUnauthorized int64   `json:"today_unauthorized"`
	Source            Source  `json:"source"`
}

type Trends struct {
	Hourly []repository.HourlyCount `json:"hourly"`
	Source Source                   `json:"source"`
}

type ActivityPage struct {
	Records []model.ActivityRecord `json:"records"`
	Source  Source                 `json:"source"`
}

type UnauthorizedPage struct {
	Attempts []model.UnauthorizedExit `json:"attempts"`
	Source   Source                   `json:"source"`
}

// ReportService answers dashboard queries from the relational store and
// degrades to journal-derived numbers when the database is unreachable.
// Fallback reports scan the whole journal; that is acceptable because the
// journal only grows while the database is down.
type ReportService struct {
	repo    *repository.LedgerRepository
	journal *journal.Journal
	now     func() time.Time
	log     zerolog.Logger
}

func NewReportService(repo *repository.LedgerRepository, j *journal.Journal, log zerolog.Logger) *ReportService {
	return &ReportService{
		repo:    repo,
		journal: j,
		now:     time.Now,
		log:     log,
	}
}

// WithClock replaces the time source. Tests only.
func (s *ReportService) WithClock(now func() time.Time) *ReportService {
	s.now = now
	return s
}

func (s *ReportService) Stats(ctx context.Context) (Stats, error) {
	now := s.now()

	occupied, err := s.repo.OccupiedCount(ctx)
	if err == nil {
		revenue, rerr := s.repo.TodayRevenue(ctx, now)
		unauthorized, uerr := s.repo.TodayUnauthorizedCount(ctx, now)
		if rerr == nil && uerr == nil {
			return Stats{
				Occupied:          occupied,
				TodayRevenue:      revenue,
				TodayUnauthorized: unauthorized,
				Source:            SourcePrimary,
			}, nil
		}
		err = errFirst(rerr, uerr)
	}
	s.log.Warn().Err(err).Msg("stats falling back to journal")

	records, jerr := s.journal.ReadAll()
	if jerr != nil {
		return Stats{}, jerr
	}

	stats := Stats{Source: SourceFallback}
	stats.Occupied = int64(len(openEntries(records)))
	for _, r := range records {
		if !sameDay(r.OccurredAt, now) {
			continue
		}
		if r.Action == model.ActionEntry && r.Paid {
			stats.TodayRevenue += r.AmountDue
		}
		if r.Action == model.ActionUnauthorizedExit {
			stats.TodayUnauthorized++
		}
	}
	return stats, nil
}

func (s *ReportService) Trends(ctx context.Context) (Trends, error) {
	now := s.now()

	hourly, err := s.repo.HourlyEntries(ctx, now)
	if err == nil {
		return Trends{Hourly: hourly, Source: SourcePrimary}, nil
	}
	s.log.Warn().Err(err).Msg("trends falling back to journal")

	records, jerr := s.journal.ReadAll()
	if jerr != nil {
		return Trends{}, jerr
	}

	byHour := make(map[int]int64)
	for _, r := range records {
		if r.Action == model.ActionEntry && sameDay(r.OccurredAt, now) {
			byHour[r.OccurredAt.Hour()]++
		}
	}
	hours := make([]int, 0, len(byHour))
	for h := range byHour {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	out := Trends{Source: SourceFallback}
	for _, h := range hours {
		out.Hourly = append(out.Hourly, repository.HourlyCount{Hour: h, Count: byHour[h]})
	}
	return out, nil
}

func (s *ReportService) RecentActivity(ctx context.Context, limit int) (ActivityPage, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	records, err := s.repo.RecentActivity(ctx, limit)
	if err == nil {
		return ActivityPage{Records: records, Source: SourcePrimary}, nil
	}
	s.log.Warn().Err(err).Msg("activity falling back to journal")

	all, jerr := s.journal.ReadAll()
	if jerr != nil {
		return ActivityPage{}, jerr
	}

	// journal rows are oldest first, the page is newest first
	page := make([]model.ActivityRecord, 0, limit)
	for i := len(all) - 1; i >= 0 && len(page) < limit; i-- {
		page = append(page, all[i])
	}
	return ActivityPage{Records: page, Source: SourceFallback}, nil
}

func (s *ReportService) UnauthorizedExits(ctx context.Context, limit int) (UnauthorizedPage, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.repo.RecentUnauthorized(ctx, limit)
	if err == nil {
		return UnauthorizedPage{Attempts: rows, Source: SourcePrimary}, nil
	}
	s.log.Warn().Err(err).Msg("unauthorized exits falling back to journal")

	all, jerr := s.journal.ReadAll()
	if jerr != nil {
		return UnauthorizedPage{}, jerr
	}

	page := UnauthorizedPage{Source: SourceFallback}
	for i := len(all) - 1; i >= 0 && len(page.Attempts) < limit; i-- {
		if all[i].Action != model.ActionUnauthorizedExit {
			continue
		}
		page.Attempts = append(page.Attempts, model.UnauthorizedExit{
			ID:         all[i].ID,
			Plate:      all[i].Plate,
			OccurredAt: all[i].OccurredAt,
		})
	}
	return page, nil
}

func (s *ReportService) CurrentVehicles(ctx context.Context) (ActivityPage, error) {
	records, err := s.repo.CurrentVehicles(ctx)
	if err == nil {
		return ActivityPage{Records: records, Source: SourcePrimary}, nil
	}
	s.log.Warn().Err(err).Msg("current vehicles falling back to journal")

	all, jerr := s.journal.ReadAll()
	if jerr != nil {
		return ActivityPage{}, jerr
	}

	open := openEntries(all)
	sort.Slice(open, func(i, j int) bool {
		return open[i].OccurredAt.After(open[j].OccurredAt)
	})
	return ActivityPage{Records: open, Source: SourceFallback}, nil
}

// openEntries derives each plate's open entry from the full journal, the
// same way the access decisions do.
func openEntries(records []model.ActivityRecord) []model.ActivityRecord {
	byPlate := make(map[string][]model.ActivityRecord)
	plates := make([]string, 0)
	for _, r := range records {
		if _, seen := byPlate[r.Plate]; !seen {
			plates = append(plates, r.Plate)
		}
		byPlate[r.Plate] = append(byPlate[r.Plate], r)
	}

	var open []model.ActivityRecord
	for _, p := range plates {
		if entry := ledger.LatestOpenEntry(byPlate[p]); entry != nil {
			open = append(open, *entry)
		}
	}
	return open
}

func sameDay(t, ref time.Time) bool {
	y1, m1, d1 := t.Date()
	y2, m2, d2 := ref.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func errFirst(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
