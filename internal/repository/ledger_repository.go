package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"parking-service/internal/model"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Ping is the cheap connectivity check the dual store runs before every
// read/write burst.
func (r *LedgerRepository) Ping(ctx context.Context) error {
	return r.db.WithContext(ctx).Exec("SELECT 1").Error
}

// AppendRecord writes one ledger row. Unauthorized exits also land in the
// denormalized index table; both inserts share one transaction so a partial
// write is never visible.
func (r *LedgerRepository) AppendRecord(ctx context.Context, rec *model.ActivityRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		if rec.Action == model.ActionUnauthorizedExit {
			idx := model.UnauthorizedExit{
				Plate:      rec.Plate,
				OccurredAt: rec.OccurredAt,
			}
			if err := tx.Create(&idx).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// History returns a plate's records oldest first, ties in occurred_at
// broken by insertion order.
func (r *LedgerRepository) History(ctx context.Context, plate string) ([]model.ActivityRecord, error) {
	var records []model.ActivityRecord
	err := r.db.WithContext(ctx).
		Where("plate = ?", plate).
		Order("occurred_at ASC").
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

// MarkPaid flips the current unpaid entry (no later exit) to paid and sets
// its amount, inside one transaction. Returns false when no such entry
// exists.
func (r *LedgerRepository) MarkPaid(ctx context.Context, plate string, amount float64) (bool, error) {
	updated := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry model.ActivityRecord
		err := tx.
			Where("plate = ? AND action = ? AND paid = FALSE", plate, model.ActionEntry).
			Where(`NOT EXISTS (
				SELECT 1 FROM activity_records later
				WHERE later.plate = activity_records.plate
				AND later.action IN (?, ?)
				AND later.occurred_at > activity_records.occurred_at
			)`, model.ActionExit, model.ActionUnauthorizedExit).
			Order("occurred_at DESC").
			First(&entry).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}

		res := tx.Model(&model.ActivityRecord{}).
			Where("id = ?", entry.ID).
			Updates(map[string]interface{}{
				"paid":       true,
				"amount_due": amount,
			})
		if res.Error != nil {
			return res.Error
		}
		updated = res.RowsAffected > 0
		return nil
	})
	return updated, err
}

// openEntryFilter matches entry rows with no later exit of either kind.
const openEntryFilter = `action = 'entry' AND NOT EXISTS (
	SELECT 1 FROM activity_records later
	WHERE later.plate = activity_records.plate
	AND later.action IN ('exit', 'unauthorized_exit')
	AND later.occurred_at > activity_records.occurred_at
)`

// OccupiedCount counts vehicles with an open entry, paid or not.
func (r *LedgerRepository) OccupiedCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ActivityRecord{}).
		Where(openEntryFilter).
		Count(&count).Error
	return count, err
}

// TodayRevenue sums amounts of entries paid today. Exit rows carry a copy
// of the amount and are excluded to avoid double counting.
func (r *LedgerRepository) TodayRevenue(ctx context.Context, now time.Time) (float64, error) {
	var revenue float64
	err := r.db.WithContext(ctx).
		Model(&model.ActivityRecord{}).
		Select("COALESCE(SUM(amount_due), 0)").
		Where("action = ? AND paid = TRUE", model.ActionEntry).
		Where("occurred_at >= ? AND occurred_at < ?", startOfDay(now), startOfDay(now).AddDate(0, 0, 1)).
		Scan(&revenue).Error
	return revenue, err
}

// TodayUnauthorizedCount counts today's unauthorized exit attempts from the
// denormalized index.
func (r *LedgerRepository) TodayUnauthorizedCount(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.UnauthorizedExit{}).
		Where("occurred_at >= ? AND occurred_at < ?", startOfDay(now), startOfDay(now).AddDate(0, 0, 1)).
		Count(&count).Error
	return count, err
}

type HourlyCount struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

// HourlyEntries returns today's entry histogram by hour.
func (r *LedgerRepository) HourlyEntries(ctx context.Context, now time.Time) ([]HourlyCount, error) {
	var rows []HourlyCount
	err := r.db.WithContext(ctx).
		Model(&model.ActivityRecord{}).
		Select("EXTRACT(HOUR FROM occurred_at)::int AS hour, COUNT(*) AS count").
		Where("action = ?", model.ActionEntry).
		Where("occurred_at >= ? AND occurred_at < ?", startOfDay(now), startOfDay(now).AddDate(0, 0, 1)).
		Group("hour").
		Order("hour").
		Scan(&rows).Error
	return rows, err
}

// RecentActivity returns the latest N ledger rows, newest first.
func (r *LedgerRepository) RecentActivity(ctx context.Context, limit int) ([]model.ActivityRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	var records []model.ActivityRecord
	err := r.db.WithContext(ctx).
		Order("occurred_at DESC").
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// RecentUnauthorized returns the latest unauthorized exit attempts, newest
// first.
func (r *LedgerRepository) RecentUnauthorized(ctx context.Context, limit int) ([]model.UnauthorizedExit, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	var rows []model.UnauthorizedExit
	err := r.db.WithContext(ctx).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// CurrentVehicles returns open entries, newest first.
func (r *LedgerRepository) CurrentVehicles(ctx context.Context) ([]model.ActivityRecord, error) {
	var records []model.ActivityRecord
	err := r.db.WithContext(ctx).
		Where(openEntryFilter).
		Order("occurred_at DESC").
		Find(&records).Error
	return records, err
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
