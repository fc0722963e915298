// Package gorm provides GORM-based run history storage for smallmerge.
package gorm

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/smallmerge/internal/runner"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// RunStore provides merge run history operations.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore creates a new run store.
func NewRunStore(store *Store) *RunStore {
	return &RunStore{db: store.DB}
}

// Record implements runner.Recorder.
func (s *RunStore) Record(ctx context.Context, report *runner.Report) error {
	return s.SaveRun(ctx, RunFromReport(report))
}

// SaveRun stores a run and its families in one transaction.
func (s *RunStore) SaveRun(ctx context.Context, run *MergeRun) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		families := run.Families
		run.Families = nil
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		run.Families = families

		if len(families) == 0 {
			return nil
		}
		for i := range families {
			families[i].RunID = run.ID
		}
		return tx.CreateInBatches(families, 100).Error
	})
}

// GetRun returns a run with its families in output order.
func (s *RunStore) GetRun(ctx context.Context, id string) (*MergeRun, error) {
	var run MergeRun
	err := s.db.WithContext(ctx).
		Preload("Families", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent runs without their families.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]MergeRun, error) {
	var runs []MergeRun
	err := s.db.WithContext(ctx).
		Order("created_at_epoch DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// CountRuns returns the number of stored runs.
func (s *RunStore) CountRuns(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&MergeRun{}).Count(&count).Error
	return count, err
}

// DeleteRun removes a run and its families.
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&RunFamily{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&MergeRun{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}

// RunFromReport converts a runner report into a storable run.
func RunFromReport(r *runner.Report) *MergeRun {
	run := &MergeRun{
		ID:                  r.RunID,
		Name:                r.Name,
		SimilarityThreshold: r.Options.SimilarityThreshold,
		MinimumOutputSize:   r.Options.MinimumOutputSize,
		FamiliesIn:          r.FamiliesIn,
		FamiliesOut:         len(r.Families),
		WordsIn:             r.WordsIn,
		WordsOut:            r.WordsOut,
		SubsetsEliminated:   r.Stats.SubsetsEliminated,
		MergesPerformed:     r.Stats.MergesPerformed,
		DurationMicros:      r.Duration.Microseconds(),
	}
	if !r.CreatedAt.IsZero() {
		run.CreatedAtEpoch = r.CreatedAt.UnixMilli()
		run.CreatedAt = r.CreatedAt.UTC().Format(time.RFC3339)
	}

	run.Families = make([]RunFamily, len(r.Families))
	for i, f := range r.Families {
		run.Families[i] = RunFamily{
			RunID:    r.RunID,
			Position: i,
			Size:     len(f),
			Words:    f.Clone(),
		}
	}
	return run
}
