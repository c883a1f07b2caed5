// Package store implements core.Store on PostgreSQL.
//
// Queries are plain SQL run through a pgxpool. Nullable columns are bound
// with pgtype values so empty optional cells are stored as NULL.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/skooler/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// DefaultHistoryLimit is used when ListImportLogs is called without a limit.
const DefaultHistoryLimit = 50

// Postgres is the PostgreSQL implementation of core.Store.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Postgres)(nil)

// NewPostgres creates a store on an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Ping checks that the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// ListClasses returns the school's classes ordered by name and section.
func (p *Postgres) ListClasses(ctx context.Context, schoolID string) ([]core.ClassRef, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, section
		FROM classes
		WHERE school_id = $1
		ORDER BY name, section`,
		core.ToPgUUID(schoolID),
	)
	if err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}

	classes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ClassRef, error) {
		var (
			id    pgtype.UUID
			class core.ClassRef
		)
		if err := row.Scan(&id, &class.Name, &class.Section); err != nil {
			return core.ClassRef{}, err
		}
		class.ID = core.PgUUIDToString(id)
		return class, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan classes: %w", err)
	}
	return classes, nil
}

// CreateStudent inserts the student's profile and student row in one
// transaction. A failure on either insert leaves nothing behind.
func (p *Postgres) CreateStudent(ctx context.Context, s core.NewStudent) (string, error) {
	rec := s.Record

	hash, err := InitialPasswordHash(rec.AdmissionNumber)
	if err != nil {
		return "", err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var profileID pgtype.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO profiles (school_id, role, first_name, last_name, email, phone, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		core.ToPgUUID(s.SchoolID),
		string(core.RoleStudent),
		strings.TrimSpace(rec.FirstName),
		strings.TrimSpace(rec.LastName),
		strings.ToLower(strings.TrimSpace(rec.Email)),
		core.NullableText(rec.Phone),
		hash,
	).Scan(&profileID)
	if err != nil {
		return "", fmt.Errorf("insert profile: %w", describe(err))
	}

	var studentID pgtype.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO students (
			profile_id, school_id, class_id, admission_number, admission_date,
			date_of_birth, blood_group, address, emergency_contact_name,
			emergency_contact_phone, medical_conditions
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		profileID,
		core.ToPgUUID(s.SchoolID),
		core.ToPgUUID(s.ClassID),
		strings.TrimSpace(rec.AdmissionNumber),
		core.ToPgDate(s.AdmissionDate),
		core.ToPgDate(rec.DateOfBirth.String),
		core.NullableText(rec.BloodGroup),
		core.NullableText(rec.Address),
		core.NullableText(rec.EmergencyContactName),
		core.NullableText(rec.EmergencyContactPhone),
		core.NullableText(rec.MedicalConditions),
	).Scan(&studentID)
	if err != nil {
		return "", fmt.Errorf("insert student: %w", describe(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit student: %w", err)
	}
	return core.PgUUIDToString(studentID), nil
}

// CreateImportLog inserts a log entry and returns its id.
func (p *Postgres) CreateImportLog(ctx context.Context, entry core.ImportLogEntry) (string, error) {
	var id pgtype.UUID
	err := p.pool.QueryRow(ctx, `
		INSERT INTO import_logs (school_id, initiated_by, file_name, total_records, status, source_object)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		core.ToPgUUID(entry.SchoolID),
		core.ToPgUUID(entry.InitiatedBy),
		entry.FileName,
		entry.TotalRecords,
		entry.Status,
		core.ToPgText(entry.SourceObject),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert import log: %w", describe(err))
	}
	return core.PgUUIDToString(id), nil
}

// UpdateImportLog applies the final state of a run.
func (p *Postgres) UpdateImportLog(ctx context.Context, id string, u core.ImportLogUpdate) error {
	var details []byte
	if len(u.ErrorDetails) > 0 {
		details = u.ErrorDetails
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE import_logs
		SET status = $2,
		    successful_records = $3,
		    failed_records = $4,
		    completed_at = $5,
		    error_details = $6
		WHERE id = $1`,
		core.ToPgUUID(id),
		u.Status,
		u.SuccessfulRecords,
		u.FailedRecords,
		pgtype.Timestamptz{Time: u.CompletedAt, Valid: !u.CompletedAt.IsZero()},
		details,
	)
	if err != nil {
		return fmt.Errorf("update import log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update import log %s: %w", id, core.ErrLogNotFound)
	}
	return nil
}

const logColumns = `id, school_id, initiated_by, file_name, total_records, status,
	successful_records, failed_records, error_details, source_object, created_at, completed_at`

// ListImportLogs returns the latest log entries of a school, newest first.
func (p *Postgres) ListImportLogs(ctx context.Context, schoolID string, limit int) ([]core.ImportLogEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+logColumns+`
		FROM import_logs
		WHERE school_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		core.ToPgUUID(schoolID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query import logs: %w", err)
	}

	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ImportLogEntry, error) {
		return scanLog(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan import logs: %w", err)
	}
	return logs, nil
}

// GetImportLog returns one entry or core.ErrLogNotFound.
func (p *Postgres) GetImportLog(ctx context.Context, id string) (*core.ImportLogEntry, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+logColumns+` FROM import_logs WHERE id = $1`, core.ToPgUUID(id))
	return logFromRow(row)
}

// logFromRow scans a single-entry lookup; a missing row is ErrLogNotFound.
func logFromRow(row pgx.Row) (*core.ImportLogEntry, error) {
	entry, err := scanLog(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrLogNotFound
		}
		return nil, fmt.Errorf("get import log: %w", err)
	}
	return &entry, nil
}

// PurgeImportLogs deletes entries created before olderThan.
func (p *Postgres) PurgeImportLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM import_logs WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge import logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanLog(row pgx.Row) (core.ImportLogEntry, error) {
	var (
		e                     core.ImportLogEntry
		id, school, initiator pgtype.UUID
		source                pgtype.Text
		completed             pgtype.Timestamptz
		details               []byte
	)
	err := row.Scan(&id, &school, &initiator, &e.FileName, &e.TotalRecords, &e.Status,
		&e.SuccessfulRecords, &e.FailedRecords, &details, &source, &e.CreatedAt, &completed)
	if err != nil {
		return core.ImportLogEntry{}, err
	}

	e.ID = core.PgUUIDToString(id)
	e.SchoolID = core.PgUUIDToString(school)
	e.InitiatedBy = core.PgUUIDToString(initiator)
	e.SourceObject = source.String
	e.ErrorDetails = details
	if completed.Valid {
		t := completed.Time
		e.CompletedAt = &t
	}
	return e, nil
}

// InitialPasswordHash returns the bcrypt hash of a new student's initial
// password, which is their admission number.
func InitialPasswordHash(admissionNumber string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(strings.TrimSpace(admissionNumber)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash initial password: %w", err)
	}
	return string(hash), nil
}

// describe adds the violated constraint to PostgreSQL errors so the log line
// names the conflicting column.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.ConstraintName != "" {
		return fmt.Errorf("%w (constraint %s)", err, pgErr.ConstraintName)
	}
	return err
}
