package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"crossbridge/internal/domain/flaky"
)

func setupFlakyTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&failureHistoryRow{}))
	return db
}

func TestFlakyRepository_Load_MissingSignatureReturnsFalse(t *testing.T) {
	db := setupFlakyTestDB(t)
	repo := NewFlakyRepository(db)

	h, ok := repo.Load("sig-unseen")
	assert.False(t, ok)
	assert.Nil(t, h)
}

func TestFlakyRepository_SaveThenLoad_RoundTripsFields(t *testing.T) {
	db := setupFlakyTestDB(t)
	repo := NewFlakyRepository(db)

	h := &flaky.History{
		Signature:           "sig-1",
		TestID:              "t1",
		Occurrences:         4,
		PassesBetween:       1,
		ConsecutiveFailures: 3,
		DistinctErrorVariants: map[string]bool{
			"timeout": true,
			"500":     true,
		},
		Nature: flaky.NatureDeterministic,
	}
	repo.Save(h)

	got, ok := repo.Load("sig-1")
	require.True(t, ok)
	assert.Equal(t, h.TestID, got.TestID)
	assert.Equal(t, h.Occurrences, got.Occurrences)
	assert.Equal(t, h.PassesBetween, got.PassesBetween)
	assert.Equal(t, h.ConsecutiveFailures, got.ConsecutiveFailures)
	assert.Equal(t, h.Nature, got.Nature)
	assert.True(t, got.DistinctErrorVariants["timeout"])
	assert.True(t, got.DistinctErrorVariants["500"])
}

func TestFlakyRepository_Save_OverwritesPriorRowForSameSignature(t *testing.T) {
	db := setupFlakyTestDB(t)
	repo := NewFlakyRepository(db)

	repo.Save(&flaky.History{Signature: "sig-1", TestID: "t1", Occurrences: 1, Nature: flaky.NatureUnknown})
	repo.Save(&flaky.History{Signature: "sig-1", TestID: "t1", Occurrences: 5, Nature: flaky.NatureFlaky})

	var count int64
	require.NoError(t, db.Model(&failureHistoryRow{}).Where("signature = ?", "sig-1").Count(&count).Error)
	assert.EqualValues(t, 1, count, "saving the same signature twice must update, not duplicate, the row")

	got, ok := repo.Load("sig-1")
	require.True(t, ok)
	assert.Equal(t, 5, got.Occurrences)
	assert.Equal(t, flaky.NatureFlaky, got.Nature)
}
