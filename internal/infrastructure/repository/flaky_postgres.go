package repository

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crossbridge/internal/domain/flaky"
)

// FlakyRepository implements flaky.Loader against Postgres.
type FlakyRepository struct {
	db *gorm.DB
}

// NewFlakyRepository constructs a FlakyRepository over db.
func NewFlakyRepository(db *gorm.DB) *FlakyRepository {
	return &FlakyRepository{db: db}
}

func (r *FlakyRepository) Load(signature string) (*flaky.History, bool) {
	var row failureHistoryRow
	if err := r.db.Where("signature = ?", signature).First(&row).Error; err != nil {
		return nil, false
	}
	variants := map[string]bool{}
	_ = json.Unmarshal(row.DistinctErrorVariants, &variants)
	return &flaky.History{
		Signature:             row.Signature,
		TestID:                row.TestID,
		Occurrences:           row.Occurrences,
		PassesBetween:         row.PassesBetween,
		ConsecutiveFailures:   row.ConsecutiveFailures,
		DistinctErrorVariants: variants,
		Nature:                flaky.Nature(row.Nature),
	}, true
}

func (r *FlakyRepository) Save(h *flaky.History) {
	variants, err := json.Marshal(h.DistinctErrorVariants)
	if err != nil {
		variants = []byte("{}")
	}
	row := failureHistoryRow{
		Signature:             h.Signature,
		TestID:                h.TestID,
		Occurrences:           h.Occurrences,
		PassesBetween:         h.PassesBetween,
		ConsecutiveFailures:   h.ConsecutiveFailures,
		DistinctErrorVariants: variants,
		Nature:                string(h.Nature),
		UpdatedAt:             time.Now().UTC(),
	}
	r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signature"}},
		UpdateAll: true,
	}).Create(&row)
}
