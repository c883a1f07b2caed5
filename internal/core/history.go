package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrLogNotFound is returned by stores and history lookups for unknown log ids.
var ErrLogNotFound = errors.New("import log not found")

// ListImportLogs returns the most recent import runs of a school, newest first.
func (s *Service) ListImportLogs(ctx context.Context, role Role, schoolID string, limit int) ([]ImportLogEntry, error) {
	if !role.CanImportStudents() {
		return nil, ErrPermissionDenied
	}
	if limit <= 0 || (s.cfg.HistoryLimit > 0 && limit > s.cfg.HistoryLimit) {
		limit = s.cfg.HistoryLimit
	}

	logs, err := s.store.ListImportLogs(ctx, schoolID, limit)
	if err != nil {
		return nil, fmt.Errorf("list import logs: %w", err)
	}
	return logs, nil
}

// GetImportLog returns one import log entry.
// School admins only see their own school's runs; other schools' entries are
// reported as not found.
func (s *Service) GetImportLog(ctx context.Context, role Role, schoolID, logID string) (*ImportLogEntry, error) {
	if !role.CanImportStudents() {
		return nil, ErrPermissionDenied
	}
	if !ToPgUUID(logID).Valid {
		return nil, ErrLogNotFound
	}

	entry, err := s.store.GetImportLog(ctx, logID)
	if err != nil {
		if errors.Is(err, ErrLogNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get import log: %w", err)
	}
	if role != RoleSuperAdmin && entry.SchoolID != schoolID {
		return nil, ErrLogNotFound
	}
	return entry, nil
}
