// Package gorm provides GORM-based run history storage for smallmerge.
package gorm

import (
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/smallmerge/pkg/models"
)

// MergeRun is one recorded merge of a family collection.
type MergeRun struct {
	ID                  string      `gorm:"primaryKey;type:text" json:"id"`
	Name                string      `gorm:"index;not null" json:"name"`
	SimilarityThreshold float64     `gorm:"not null" json:"similarity_threshold"`
	MinimumOutputSize   int         `gorm:"not null" json:"minimum_output_size"`
	FamiliesIn          int         `gorm:"default:0" json:"families_in"`
	FamiliesOut         int         `gorm:"default:0" json:"families_out"`
	WordsIn             int         `gorm:"default:0" json:"words_in"`
	WordsOut            int         `gorm:"default:0" json:"words_out"`
	SubsetsEliminated   int         `gorm:"default:0" json:"subsets_eliminated"`
	MergesPerformed     int         `gorm:"default:0" json:"merges_performed"`
	DurationMicros      int64       `gorm:"default:0" json:"duration_us"`
	CreatedAt           string      `gorm:"not null" json:"created_at"`
	CreatedAtEpoch      int64       `gorm:"index:idx_runs_created,sort:desc;not null" json:"created_at_epoch"`
	Families            []RunFamily `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"families,omitempty"`
}

func (MergeRun) TableName() string { return "merge_runs" }

// BeforeCreate hook to ensure timestamps are set.
func (r *MergeRun) BeforeCreate(tx *gorm.DB) error {
	if r.CreatedAtEpoch == 0 {
		r.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if r.CreatedAt == "" {
		r.CreatedAt = time.UnixMilli(r.CreatedAtEpoch).UTC().Format(time.RFC3339)
	}
	return nil
}

// RunFamily is one output family of a recorded run.
type RunFamily struct {
	ID       int64         `gorm:"primaryKey;autoIncrement" json:"-"`
	RunID    string        `gorm:"index:idx_run_families_run,priority:1;not null" json:"-"`
	Position int           `gorm:"index:idx_run_families_run,priority:2;not null" json:"position"`
	Size     int           `gorm:"not null" json:"size"`
	Words    models.Family `gorm:"type:text;not null" json:"words"`
}

func (RunFamily) TableName() string { return "run_families" }
