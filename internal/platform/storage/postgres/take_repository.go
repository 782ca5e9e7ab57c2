package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/chrismeisner/makethetake/internal/domain"
)

// TakeRepository stores takes and exposes the aggregate queries the ledger
// and leaderboard need.
type TakeRepository struct {
	db *gorm.DB
}

func NewTakeRepository(db *gorm.DB) *TakeRepository {
	return &TakeRepository{db: db}
}

type takeModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	TakeID     string    `gorm:"column:take_id;uniqueIndex"`
	ProfileID  string    `gorm:"column:profile_id;index"`
	Mobile     string    `gorm:"column:mobile;index"`
	PropID     string    `gorm:"column:prop_id;index"`
	Side       string    `gorm:"column:side"`
	Popularity int       `gorm:"column:popularity"`
	Points     int64     `gorm:"column:points"`
	Status     string    `gorm:"column:status"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (takeModel) TableName() string {
	return "takes"
}

func (m takeModel) toDomain() domain.Take {
	return domain.Take{
		ID:         domain.RecordID(m.ID),
		TakeID:     domain.TakeID(m.TakeID),
		ProfileID:  domain.RecordID(m.ProfileID),
		Mobile:     m.Mobile,
		PropID:     domain.PropID(m.PropID),
		Side:       domain.Side(m.Side),
		Popularity: m.Popularity,
		Points:     m.Points,
		Status:     domain.TakeStatus(m.Status),
		CreatedAt:  m.CreatedAt,
	}
}

func fromDomainTake(t domain.Take) takeModel {
	return takeModel{
		ID:         string(t.ID),
		TakeID:     string(t.TakeID),
		ProfileID:  string(t.ProfileID),
		Mobile:     t.Mobile,
		PropID:     string(t.PropID),
		Side:       string(t.Side),
		Popularity: t.Popularity,
		Points:     t.Points,
		Status:     string(t.Status),
		CreatedAt:  t.CreatedAt,
	}
}

func (r *TakeRepository) Create(ctx context.Context, t domain.Take) error {
	model := fromDomainTake(t)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("gorm takes: insert: %w", err)
	}
	return nil
}

func (r *TakeRepository) FindByTakeID(ctx context.Context, id domain.TakeID) (domain.Take, error) {
	var model takeModel
	if err := r.db.WithContext(ctx).First(&model, "take_id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Take{}, domain.ErrNotFound
		}
		return domain.Take{}, fmt.Errorf("gorm takes: find by take id: %w", err)
	}
	return model.toDomain(), nil
}

func (r *TakeRepository) FindLatest(ctx context.Context, profileID domain.RecordID, propID domain.PropID) (domain.Take, error) {
	var model takeModel
	if err := r.db.WithContext(ctx).
		Where("profile_id = ? AND prop_id = ? AND status = ?",
			string(profileID), string(propID), string(domain.TakeStatusLatest)).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Take{}, domain.ErrNotFound
		}
		return domain.Take{}, fmt.Errorf("gorm takes: find latest: %w", err)
	}
	return model.toDomain(), nil
}

func (r *TakeRepository) Supersede(ctx context.Context, prevID domain.RecordID, t domain.Take) error {
	model := fromDomainTake(t)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&takeModel{}).
			Where("id = ?", string(prevID)).
			Update("status", string(domain.TakeStatusOverwritten)).Error; err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("gorm takes: supersede: %w", err)
	}
	return nil
}

func (r *TakeRepository) CountSides(ctx context.Context, propID domain.PropID) (int64, int64, error) {
	type result struct {
		Side  string
		Total int64
	}
	var res []result
	if err := r.db.WithContext(ctx).
		Model(&takeModel{}).
		Select("side, COUNT(*) as total").
		// Superseded takes never count toward the tally.
		Where("prop_id = ? AND status <> ?", string(propID), string(domain.TakeStatusOverwritten)).
		Group("side").
		Scan(&res).Error; err != nil {
		return 0, 0, fmt.Errorf("gorm takes: count sides: %w", err)
	}

	var sideA, sideB int64
	for _, item := range res {
		switch domain.Side(item.Side) {
		case domain.SideA:
			sideA = item.Total
		case domain.SideB:
			sideB = item.Total
		}
	}
	return sideA, sideB, nil
}

func (r *TakeRepository) ListByProfile(ctx context.Context, profileID domain.RecordID) ([]domain.Take, error) {
	var models []takeModel
	if err := r.db.WithContext(ctx).
		Where("profile_id = ? AND status <> ?", string(profileID), string(domain.TakeStatusOverwritten)).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("gorm takes: list by profile: %w", err)
	}

	result := make([]domain.Take, len(models))
	for i, model := range models {
		result[i] = model.toDomain()
	}
	return result, nil
}

func (r *TakeRepository) ListRecent(ctx context.Context, limit int) ([]domain.Take, error) {
	var models []takeModel
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("gorm takes: list recent: %w", err)
	}

	result := make([]domain.Take, len(models))
	for i, model := range models {
		result[i] = model.toDomain()
	}
	return result, nil
}

func (r *TakeRepository) Leaderboard(ctx context.Context, subjectID string) ([]domain.LeaderboardEntry, error) {
	type row struct {
		Mobile    string
		ProfileID string
		TakeCount int64
		Points    int64
	}

	query := r.db.WithContext(ctx).
		Model(&takeModel{}).
		Select("takes.mobile as mobile, MAX(profiles.profile_id) as profile_id, COUNT(*) as take_count, COALESCE(SUM(takes.points), 0) as points").
		Joins("LEFT JOIN profiles ON profiles.id = takes.profile_id").
		Where("takes.status <> ?", string(domain.TakeStatusOverwritten))

	if subjectID != "" {
		query = query.
			Joins("JOIN props ON props.prop_id = takes.prop_id").
			Where("props.subject_id = ?", subjectID)
	}

	var rows []row
	if err := query.
		Group("takes.mobile").
		// Deterministic order: points, then volume, then phone.
		Order("points DESC, take_count DESC, mobile ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("gorm takes: leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(rows))
	for i, item := range rows {
		entries[i] = domain.LeaderboardEntry{
			Mobile:    item.Mobile,
			ProfileID: domain.ProfileID(item.ProfileID),
			TakeCount: item.TakeCount,
			Points:    item.Points,
		}
	}
	return entries, nil
}

var _ domain.TakeRepository = (*TakeRepository)(nil)
