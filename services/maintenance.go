package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"material-indexing-platform/models"
)

// interruptedError is recorded on materials a crashed worker left in processing
const interruptedError = "processing interrupted before completion"

// RecoverStuckMaterials marks materials that have been processing for longer
// than olderThan as failed, so the reprocess sweep picks them up again
func (s *IndexingService) RecoverStuckMaterials(ctx context.Context, olderThan time.Duration) (int, error) {
	materials, err := s.store.FindByStatuses(ctx, models.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to load processing materials: %w", err)
	}

	cutoff := s.timestamp().Add(-olderThan)
	recovered := 0
	for _, m := range materials {
		if m.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.store.MarkFailed(ctx, m.ID, interruptedError, s.timestamp()); err != nil {
			return recovered, fmt.Errorf("failed to mark %s failed: %w", m.ID.Hex(), err)
		}
		s.log.Warn("Recovered stuck material", "material_id", m.ID.Hex(), "since", m.UpdatedAt)
		recovered++
	}
	return recovered, nil
}

// StorageReport lists stored objects without a material and materials whose
// object is missing
type StorageReport struct {
	OrphanObjects    []string `json:"orphan_objects"`
	MissingObjects   []string `json:"missing_objects"`
	MaterialsChecked int      `json:"materials_checked"`
	ObjectsChecked   int      `json:"objects_checked"`
}

func (s *IndexingService) CheckStorage(ctx context.Context) (StorageReport, error) {
	report := StorageReport{OrphanObjects: []string{}, MissingObjects: []string{}}
	if s.objects == nil {
		return report, fmt.Errorf("no object store configured")
	}

	keys, err := s.objects.List(ctx, "")
	if err != nil {
		return report, err
	}
	materials, err := s.store.FindByStatuses(ctx, models.AllStatuses...)
	if err != nil {
		return report, err
	}
	report.ObjectsChecked = len(keys)
	report.MaterialsChecked = len(materials)

	stored := make(map[string]bool, len(keys))
	for _, k := range keys {
		stored[k] = true
	}
	referenced := make(map[string]bool, len(materials))
	for _, m := range materials {
		key := m.ObjectKey()
		referenced[key] = true
		if !stored[key] {
			report.MissingObjects = append(report.MissingObjects, key)
		}
	}
	for _, k := range keys {
		if !referenced[k] {
			report.OrphanObjects = append(report.OrphanObjects, k)
		}
	}
	sort.Strings(report.MissingObjects)
	return report, nil
}
