package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/chrismeisner/makethetake/internal/domain"
)

// ProfileRepository persists phone-to-handle mappings.
type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

type profileModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	ProfileID string    `gorm:"column:profile_id;uniqueIndex"`
	Mobile    string    `gorm:"column:mobile;uniqueIndex"`
	Username  string    `gorm:"column:username"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (profileModel) TableName() string {
	return "profiles"
}

func (m profileModel) toDomain() domain.Profile {
	return domain.Profile{
		ID:        domain.RecordID(m.ID),
		ProfileID: domain.ProfileID(m.ProfileID),
		Mobile:    m.Mobile,
		Username:  m.Username,
		CreatedAt: m.CreatedAt,
	}
}

func fromDomainProfile(p domain.Profile) profileModel {
	return profileModel{
		ID:        string(p.ID),
		ProfileID: string(p.ProfileID),
		Mobile:    p.Mobile,
		Username:  p.Username,
		CreatedAt: p.CreatedAt,
	}
}

func (r *ProfileRepository) Create(ctx context.Context, p domain.Profile) error {
	model := fromDomainProfile(p)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("gorm profiles: insert: %w", err)
	}
	return nil
}

func (r *ProfileRepository) FindByMobile(ctx context.Context, mobile string) (domain.Profile, error) {
	var model profileModel
	if err := r.db.WithContext(ctx).First(&model, "mobile = ?", mobile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, domain.ErrNotFound
		}
		return domain.Profile{}, fmt.Errorf("gorm profiles: find by mobile: %w", err)
	}
	return model.toDomain(), nil
}

func (r *ProfileRepository) FindByProfileID(ctx context.Context, id domain.ProfileID) (domain.Profile, error) {
	var model profileModel
	if err := r.db.WithContext(ctx).First(&model, "profile_id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, domain.ErrNotFound
		}
		return domain.Profile{}, fmt.Errorf("gorm profiles: find by profile id: %w", err)
	}
	return model.toDomain(), nil
}

var _ domain.ProfileRepository = (*ProfileRepository)(nil)
