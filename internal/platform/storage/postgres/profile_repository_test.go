package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/chrismeisner/makethetake/internal/domain"
	"github.com/chrismeisner/makethetake/internal/platform/ids"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&domain.Profile{},
		&domain.Prop{},
		&domain.Take{},
		&domain.Subject{},
		&domain.ContentItem{},
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	return db
}

func TestProfileRepository_CreateAndFind_WhenValid_RoundTrips(t *testing.T) {
	db := setupDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	profile := domain.Profile{
		ID:        domain.RecordID(ids.NewULID()),
		ProfileID: "AB12CD34",
		Mobile:    "+15551234567",
	}

	require.NoError(t, repo.Create(ctx, profile))

	byMobile, err := repo.FindByMobile(ctx, "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, profile.ProfileID, byMobile.ProfileID)

	byHandle, err := repo.FindByProfileID(ctx, "AB12CD34")
	require.NoError(t, err)
	assert.Equal(t, profile.Mobile, byHandle.Mobile)
}

func TestProfileRepository_Create_WhenMobileDuplicated_ReturnsError(t *testing.T) {
	db := setupDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	first := domain.Profile{
		ID:        domain.RecordID(ids.NewULID()),
		ProfileID: "AB12CD34",
		Mobile:    "+15551234567",
	}
	require.NoError(t, repo.Create(ctx, first))

	second := domain.Profile{
		ID:        domain.RecordID(ids.NewULID()),
		ProfileID: "EF56GH78",
		Mobile:    "+15551234567",
	}
	err := repo.Create(ctx, second)
	assert.Error(t, err, "the unique mobile index must reject a second profile for the same number")
}

func TestProfileRepository_Find_WhenMissing_ReturnsErrNotFound(t *testing.T) {
	db := setupDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	_, err := repo.FindByMobile(ctx, "+15550000000")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.FindByProfileID(ctx, "MISSING1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
