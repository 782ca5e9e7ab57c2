package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/chrismeisner/makethetake/internal/domain"
)

// PropRepository reads propositions plus their subject and content metadata.
// Props are authored and graded outside this application, so there is no
// write path here beyond what migrations and seeds need.
type PropRepository struct {
	db *gorm.DB
}

func NewPropRepository(db *gorm.DB) *PropRepository {
	return &PropRepository{db: db}
}

type propModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	PropID     string    `gorm:"column:prop_id;uniqueIndex"`
	Title      string    `gorm:"column:title"`
	Summary    string    `gorm:"column:summary"`
	LongText   string    `gorm:"column:long_text"`
	SideALabel string    `gorm:"column:side_a_label"`
	SideBLabel string    `gorm:"column:side_b_label"`
	Status     string    `gorm:"column:status"`
	SubjectID  string    `gorm:"column:subject_id;index"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (propModel) TableName() string {
	return "props"
}

func (m propModel) toDomain() domain.Prop {
	return domain.Prop{
		ID:         domain.RecordID(m.ID),
		PropID:     domain.PropID(m.PropID),
		Title:      m.Title,
		Summary:    m.Summary,
		LongText:   m.LongText,
		SideALabel: m.SideALabel,
		SideBLabel: m.SideBLabel,
		Status:     domain.PropStatus(m.Status),
		SubjectID:  m.SubjectID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

type subjectModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	SubjectID string    `gorm:"column:subject_id;uniqueIndex"`
	Title     string    `gorm:"column:title"`
	LogoURL   string    `gorm:"column:logo_url"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (subjectModel) TableName() string {
	return "subjects"
}

type contentModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	PropID    string    `gorm:"column:prop_id;index"`
	Title     string    `gorm:"column:title"`
	URL       string    `gorm:"column:url"`
	Source    string    `gorm:"column:source"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (contentModel) TableName() string {
	return "content"
}

func (r *PropRepository) FindByPropID(ctx context.Context, id domain.PropID) (domain.Prop, error) {
	var model propModel
	if err := r.db.WithContext(ctx).First(&model, "prop_id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Prop{}, domain.ErrNotFound
		}
		return domain.Prop{}, fmt.Errorf("gorm props: find by prop id: %w", err)
	}
	return model.toDomain(), nil
}

func (r *PropRepository) List(ctx context.Context) ([]domain.Prop, error) {
	var models []propModel
	if err := r.db.WithContext(ctx).
		// Archived props stay fetchable by ID but never show up in listings.
		Where("status <> ?", string(domain.PropStatusArchived)).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("gorm props: list: %w", err)
	}

	result := make([]domain.Prop, len(models))
	for i, model := range models {
		result[i] = model.toDomain()
	}
	return result, nil
}

func (r *PropRepository) PropsByIDs(ctx context.Context, ids []domain.PropID) (map[domain.PropID]domain.Prop, error) {
	if len(ids) == 0 {
		return map[domain.PropID]domain.Prop{}, nil
	}

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}

	var models []propModel
	if err := r.db.WithContext(ctx).
		Where("prop_id IN ?", raw).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("gorm props: by ids: %w", err)
	}

	result := make(map[domain.PropID]domain.Prop, len(models))
	for _, model := range models {
		result[domain.PropID(model.PropID)] = model.toDomain()
	}
	return result, nil
}

func (r *PropRepository) ListSubjectIDs(ctx context.Context) ([]string, error) {
	var subjectIDs []string
	if err := r.db.WithContext(ctx).
		Model(&propModel{}).
		Distinct("subject_id").
		Where("subject_id <> '' AND status <> ?", string(domain.PropStatusArchived)).
		Order("subject_id ASC").
		Pluck("subject_id", &subjectIDs).Error; err != nil {
		return nil, fmt.Errorf("gorm props: subject ids: %w", err)
	}
	return subjectIDs, nil
}

func (r *PropRepository) FindRelated(ctx context.Context, subjectID string, exclude domain.PropID) (domain.Prop, error) {
	if subjectID == "" {
		return domain.Prop{}, domain.ErrNotFound
	}

	var model propModel
	if err := r.db.WithContext(ctx).
		Where("subject_id = ? AND prop_id <> ? AND status = ?", subjectID, string(exclude), string(domain.PropStatusOpen)).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Prop{}, domain.ErrNotFound
		}
		return domain.Prop{}, fmt.Errorf("gorm props: find related: %w", err)
	}
	return model.toDomain(), nil
}

func (r *PropRepository) SubjectsByIDs(ctx context.Context, subjectIDs []string) (map[string]domain.Subject, error) {
	if len(subjectIDs) == 0 {
		return map[string]domain.Subject{}, nil
	}

	var models []subjectModel
	if err := r.db.WithContext(ctx).
		Where("subject_id IN ?", subjectIDs).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("gorm subjects: by ids: %w", err)
	}

	result := make(map[string]domain.Subject, len(models))
	for _, model := range models {
		result[model.SubjectID] = domain.Subject{
			ID:        domain.RecordID(model.ID),
			SubjectID: model.SubjectID,
			Title:     model.Title,
			LogoURL:   model.LogoURL,
			CreatedAt: model.CreatedAt,
		}
	}
	return result, nil
}

func (r *PropRepository) ContentByPropIDs(ctx context.Context, propIDs []domain.PropID) (map[domain.PropID][]domain.ContentItem, error) {
	if len(propIDs) == 0 {
		return map[domain.PropID][]domain.ContentItem{}, nil
	}

	raw := make([]string, len(propIDs))
	for i, id := range propIDs {
		raw[i] = string(id)
	}

	var models []contentModel
	if err := r.db.WithContext(ctx).
		Where("prop_id IN ?", raw).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("gorm content: by prop ids: %w", err)
	}

	result := make(map[domain.PropID][]domain.ContentItem)
	for _, model := range models {
		item := domain.ContentItem{
			ID:        domain.RecordID(model.ID),
			PropID:    domain.PropID(model.PropID),
			Title:     model.Title,
			URL:       model.URL,
			Source:    model.Source,
			CreatedAt: model.CreatedAt,
		}
		result[item.PropID] = append(result[item.PropID], item)
	}
	return result, nil
}

var _ domain.PropRepository = (*PropRepository)(nil)
