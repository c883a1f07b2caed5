package core

// importer.go runs one import: authorize, validate all records, then create
// students one at a time while keeping the import log up to date.
//
// Records are validated as a whole before anything is written. A single bad
// row rejects the file and nothing touches the store. Once ingestion starts,
// a failing record is counted and reported but never stops the run, so
// SuccessfulImports + FailedImports == TotalRecords on every returned result.
//
// A run is detached from its caller's cancellation and bounded only by
// IMPORT_TIMEOUT. When that deadline passes the loop stops, the log entry is
// marked failed and the deadline error is returned instead of a result.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/JonMunkholm/skooler/internal/logging"
	"github.com/google/uuid"
)

// ErrPermissionDenied is returned when the caller's role may not import students.
var ErrPermissionDenied = errors.New("permission denied: only super admins and school admins can import students")

// ErrFileTooLarge is returned when an upload exceeds the configured size limit.
var ErrFileTooLarge = errors.New("file too large")

// createFailedMessage is the only detail reported for ingestion failures.
// The underlying cause is logged, not returned.
const createFailedMessage = "Failed to create student record"

// logWriteTimeout bounds the final log update, which runs even if the run's
// context is already done.
const logWriteTimeout = 10 * time.Second

// RunImport imports already mapped records.
//
// Permission is checked first. A validation failure returns a result with
// every record counted as failed and a nil error; no import log is created.
// The run waits for an import slot like a background run does. progress may
// be nil.
func (s *Service) RunImport(ctx context.Context, req ImportRequest, progress ProgressCallback) (*ImportResult, error) {
	if !req.ActorRole.CanImportStudents() {
		return nil, ErrPermissionDenied
	}
	return s.runWithSlot(ctx, req, nil, progress)
}

// ImportFile reads, tokenizes and maps an uploaded file, then runs the import.
// Malformed files are rejected before validation. req.Records is ignored.
func (s *Service) ImportFile(ctx context.Context, req ImportRequest, r io.Reader, progress ProgressCallback) (*ImportResult, error) {
	if !req.ActorRole.CanImportStudents() {
		return nil, ErrPermissionDenied
	}

	data, err := s.readUpload(r)
	if err != nil {
		return nil, err
	}

	if progress != nil {
		progress(ImportProgress{Phase: PhaseReading, FileName: req.FileName})
	}

	if err := s.parseFile(&req, data); err != nil {
		return nil, err
	}

	return s.runWithSlot(ctx, req, data, progress)
}

// runWithSlot holds an import slot for the length of a synchronous run.
func (s *Service) runWithSlot(ctx context.Context, req ImportRequest, source []byte, progress ProgressCallback) (*ImportResult, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	return s.ingest(runCtx, req, source, progress)
}

// readUpload reads r up to the configured size limit.
func (s *Service) readUpload(r io.Reader) ([]byte, error) {
	limit := s.cfg.MaxFileSize
	if limit <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, limit)
	}
	return data, nil
}

// parseFile fills req.Records and req.IgnoredColumns from raw file bytes.
func (s *Service) parseFile(req *ImportRequest, data []byte) error {
	if s.cfg.MaxFileSize > 0 && int64(len(data)) > s.cfg.MaxFileSize {
		return fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, s.cfg.MaxFileSize)
	}

	if err := CheckContent(req.FileName, data); err != nil {
		return err
	}

	header, rows, err := TokenizeFile(req.FileName, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("tokenize %s: %w", req.FileName, err)
	}
	req.Records = MapRecords(header, rows)
	req.IgnoredColumns = IgnoredColumns(header)
	return nil
}

// ingest runs the validation gate and the sequential ingestion loop.
// source, when non-nil, is archived before the log entry is created.
func (s *Service) ingest(ctx context.Context, req ImportRequest, source []byte, progress ProgressCallback) (*ImportResult, error) {
	records := req.Records
	total := len(records)

	report := func(p ImportProgress) {
		if progress == nil {
			return
		}
		p.FileName = req.FileName
		p.Total = total
		progress(p)
	}

	result := &ImportResult{
		TotalRecords:   total,
		Errors:         []ImportError{},
		IgnoredColumns: req.IgnoredColumns,
	}
	if total == 0 {
		return result, nil
	}

	for i := range records {
		if records[i].Row == 0 {
			records[i].Row = i + 2
		}
	}

	ctx = logging.With(ctx,
		"school_id", req.SchoolID,
		"actor_id", req.ActorID,
		"file", req.FileName,
	)
	runLog := logging.WithFields(ctx, "records", total)
	if len(req.IgnoredColumns) > 0 {
		runLog.Info("ignoring unknown columns", "columns", req.IgnoredColumns)
	}

	report(ImportProgress{Phase: PhaseValidating})
	if errs := ValidateRecords(records); len(errs) > 0 {
		runLog.Info("import rejected by validation", "errors", len(errs))
		result.FailedImports = total
		result.Errors = errs
		return result, nil
	}

	report(ImportProgress{Phase: PhaseInserting})

	sourceKey := s.archiveSource(ctx, req, source)
	logID := s.openLog(ctx, req, total, sourceKey)
	result.ImportLogID = logID

	classes, err := s.store.ListClasses(ctx, req.SchoolID)
	if err != nil {
		runLog.Warn("failed to list classes, importing without class assignment", "error", err)
		classes = nil
	}

	today := s.now().Format(DateLayout)
	start := time.Now()

	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, s.abort(ctx, logID, result, err)
		}

		student := NewStudent{
			SchoolID:      req.SchoolID,
			Record:        rec,
			AdmissionDate: today,
		}
		if d := strings.TrimSpace(rec.AdmissionDate.String); rec.AdmissionDate.Valid && d != "" {
			student.AdmissionDate = d
		}
		if rec.ClassName.Valid && rec.Section.Valid {
			if class, ok := ResolveClass(classes, rec.ClassName.String, rec.Section.String); ok {
				student.ClassID = class.ID
			}
		}

		if _, err := s.store.CreateStudent(ctx, student); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, s.abort(ctx, logID, result, ctxErr)
			}
			runLog.Error("failed to create student",
				"row", rec.Row,
				"admission_number", rec.AdmissionNumber,
				"error", err,
			)
			result.FailedImports++
			result.Errors = append(result.Errors, ImportError{
				Row:   rec.Row,
				Field: "general",
				Value: rec.FullName(),
				Error: createFailedMessage,
			})
		} else {
			result.SuccessfulImports++
		}

		report(ImportProgress{
			Phase:      PhaseInserting,
			Completed:  i + 1,
			Successful: result.SuccessfulImports,
			Failed:     result.FailedImports,
		})
	}

	s.closeLog(ctx, logID, LogStatusCompleted, result)

	runLog.Info("import completed",
		"import_log_id", logID,
		"successful", result.SuccessfulImports,
		"failed", result.FailedImports,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	report(ImportProgress{
		Phase:      PhaseComplete,
		Completed:  total,
		Successful: result.SuccessfulImports,
		Failed:     result.FailedImports,
	})

	return result, nil
}

// openLog creates the processing log entry. Failures are logged and the run
// continues without a log id.
func (s *Service) openLog(ctx context.Context, req ImportRequest, total int, sourceKey string) string {
	id, err := s.store.CreateImportLog(ctx, ImportLogEntry{
		SchoolID:     req.SchoolID,
		InitiatedBy:  req.ActorID,
		FileName:     req.FileName,
		TotalRecords: total,
		Status:       LogStatusProcessing,
		SourceObject: sourceKey,
	})
	if err != nil {
		logging.FromContext(ctx).Warn("failed to create import log",
			"school_id", req.SchoolID,
			"error", err,
		)
		return ""
	}
	return id
}

// abort closes the log of a run stopped by its deadline and returns the
// error reported to the caller. Records not yet attempted are not counted.
func (s *Service) abort(ctx context.Context, logID string, result *ImportResult, cause error) error {
	done := result.SuccessfulImports + result.FailedImports
	logging.FromContext(ctx).Warn("import stopped before all records were processed",
		"import_log_id", logID,
		"processed", done,
		"records", result.TotalRecords,
		"error", cause,
	)
	s.closeLog(ctx, logID, LogStatusFailed, result)
	return fmt.Errorf("import stopped after %d of %d records: %w", done, result.TotalRecords, cause)
}

// closeLog writes the final status and counts of a run. A run that reached
// the end is completed even when every record failed.
func (s *Service) closeLog(ctx context.Context, logID, status string, result *ImportResult) {
	if logID == "" {
		return
	}

	update := ImportLogUpdate{
		Status:            status,
		SuccessfulRecords: result.SuccessfulImports,
		FailedRecords:     result.FailedImports,
		CompletedAt:       s.now(),
	}
	if len(result.Errors) > 0 {
		details, err := json.Marshal(result.Errors)
		if err == nil {
			update.ErrorDetails = details
		}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()

	if err := s.store.UpdateImportLog(writeCtx, logID, update); err != nil {
		logging.FromContext(ctx).Warn("failed to update import log",
			"import_log_id", logID,
			"error", err,
		)
	}
}

// archiveSource stores the uploaded file and returns its object key, or ""
// when archiving is disabled or fails.
func (s *Service) archiveSource(ctx context.Context, req ImportRequest, source []byte) string {
	if s.archive == nil || len(source) == 0 {
		return ""
	}

	key := SourceObjectKey(req.SchoolID, uuid.New().String(), req.FileName)
	if err := s.archive.Put(ctx, key, source, contentTypeFor(req.FileName)); err != nil {
		logging.FromContext(ctx).Warn("failed to archive import file",
			"key", key,
			"error", err,
		)
		return ""
	}
	return key
}

// SourceObjectKey returns the archive key imports/<school>/<run>/<file>.
func SourceObjectKey(schoolID, runID, fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, `\`, "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload.csv"
	}
	return path.Join("imports", schoolID, runID, base)
}

func contentTypeFor(fileName string) string {
	if strings.EqualFold(filepath.Ext(fileName), ".xlsx") {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}
