package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Role is the role of the user invoking an operation.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleSchoolAdmin Role = "school_admin"
	RoleTeacher     Role = "teacher"
	RoleStudent     Role = "student"
	RoleParent      Role = "parent"
)

// CanImportStudents reports whether the role may run a bulk student import.
func (r Role) CanImportStudents() bool {
	return r == RoleSuperAdmin || r == RoleSchoolAdmin
}

// ImportRecord is one mapped data row of an import file.
//
// Required fields are plain strings; an absent column leaves them empty and
// validation rejects the record. Optional fields use pgtype.Text so that a
// column missing from the header (Valid == false) can be told apart from a
// present but empty cell.
type ImportRecord struct {
	Row int `csv:"-" json:"-"` // 1-based file row (data index + 2)

	FirstName             string      `csv:"firstName" json:"firstName" validate:"notblank"`
	LastName              string      `csv:"lastName" json:"lastName" validate:"notblank"`
	Email                 string      `csv:"email" json:"email" validate:"notblank,student_email"`
	AdmissionNumber       string      `csv:"admissionNumber" json:"admissionNumber" validate:"notblank"`
	DateOfBirth           pgtype.Text `csv:"dateOfBirth" json:"dateOfBirth" validate:"omitempty,iso_date"`
	Phone                 pgtype.Text `csv:"phone" json:"phone"`
	AdmissionDate         pgtype.Text `csv:"admissionDate" json:"admissionDate"`
	ClassName             pgtype.Text `csv:"className" json:"className"`
	Section               pgtype.Text `csv:"section" json:"section"`
	BloodGroup            pgtype.Text `csv:"bloodGroup" json:"bloodGroup"`
	Address               pgtype.Text `csv:"address" json:"address"`
	EmergencyContactName  pgtype.Text `csv:"emergencyContactName" json:"emergencyContactName"`
	EmergencyContactPhone pgtype.Text `csv:"emergencyContactPhone" json:"emergencyContactPhone"`
	MedicalConditions     pgtype.Text `csv:"medicalConditions" json:"medicalConditions"`
}

// FullName returns "<first> <last>" as entered in the file.
func (r ImportRecord) FullName() string {
	return r.FirstName + " " + r.LastName
}

// ImportError describes one problem with one row of an import file.
type ImportError struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
	Value string `json:"value"`
	Error string `json:"error"`
}

// ImportResult is the outcome of a single import run.
// SuccessfulImports + FailedImports always equals TotalRecords.
type ImportResult struct {
	TotalRecords      int           `json:"totalRecords"`
	SuccessfulImports int           `json:"successfulImports"`
	FailedImports     int           `json:"failedImports"`
	Errors            []ImportError `json:"errors"`
	ImportLogID       string        `json:"importLogId,omitempty"`

	// IgnoredColumns lists header cells that matched no import column.
	IgnoredColumns []string `json:"ignoredColumns,omitempty"`
}

// ClassRef is a class known to the school, used for class assignment.
type ClassRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Section string `json:"section"`
}

// Import log statuses.
const (
	LogStatusProcessing = "processing"
	LogStatusCompleted  = "completed"
	LogStatusFailed     = "failed" // stopped by IMPORT_TIMEOUT
)

// ImportLogEntry is the persisted summary of an import run.
type ImportLogEntry struct {
	ID                string          `json:"id"`
	SchoolID          string          `json:"schoolId"`
	InitiatedBy       string          `json:"initiatedBy"`
	FileName          string          `json:"fileName"`
	TotalRecords      int             `json:"totalRecords"`
	Status            string          `json:"status"`
	SuccessfulRecords int             `json:"successfulRecords"`
	FailedRecords     int             `json:"failedRecords"`
	CompletedAt       *time.Time      `json:"completedAt,omitempty"`
	ErrorDetails      json.RawMessage `json:"errorDetails,omitempty"`
	SourceObject      string          `json:"sourceObject,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// ImportLogUpdate is the patch applied to a log entry when a run finishes.
type ImportLogUpdate struct {
	Status            string
	SuccessfulRecords int
	FailedRecords     int
	CompletedAt       time.Time
	ErrorDetails      json.RawMessage // nil when the run had no errors
}

// NewStudent carries everything needed to create a profile and its student row.
type NewStudent struct {
	SchoolID string
	ClassID  string // empty when no class was resolved
	Record   ImportRecord
	// AdmissionDate is the record's admission date or today's date (YYYY-MM-DD).
	AdmissionDate string
}

// Store is the persistence collaborator used by the import pipeline.
// CreateStudent must create the profile and the student row atomically.
type Store interface {
	ListClasses(ctx context.Context, schoolID string) ([]ClassRef, error)
	CreateStudent(ctx context.Context, s NewStudent) (studentID string, err error)
	CreateImportLog(ctx context.Context, entry ImportLogEntry) (id string, err error)
	UpdateImportLog(ctx context.Context, id string, update ImportLogUpdate) error
	ListImportLogs(ctx context.Context, schoolID string, limit int) ([]ImportLogEntry, error)
	GetImportLog(ctx context.Context, id string) (*ImportLogEntry, error)
	PurgeImportLogs(ctx context.Context, olderThan time.Time) (int64, error)
}

// FileArchive keeps a copy of uploaded source files.
type FileArchive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// ImportPhase indicates the current stage of an import run.
type ImportPhase string

const (
	PhaseStarting   ImportPhase = "starting"
	PhaseReading    ImportPhase = "reading"
	PhaseValidating ImportPhase = "validating"
	PhaseInserting  ImportPhase = "inserting"
	PhaseComplete   ImportPhase = "complete"
	PhaseFailed     ImportPhase = "failed"
)

// ImportProgress is a snapshot of a running import.
type ImportProgress struct {
	RunID      string      `json:"runId,omitempty"`
	Phase      ImportPhase `json:"phase"`
	FileName   string      `json:"fileName,omitempty"`
	Total      int         `json:"total"`
	Completed  int         `json:"completed"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Error      string      `json:"error,omitempty"`
}

// Percent returns (completed / total) * 100, or 0 when the total is unknown.
func (p ImportProgress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// MarshalJSON adds the computed percentage to the progress payload.
func (p ImportProgress) MarshalJSON() ([]byte, error) {
	type alias ImportProgress
	return json.Marshal(struct {
		alias
		Percent float64 `json:"percent"`
	}{alias(p), p.Percent()})
}

// ProgressCallback receives progress after every processed record.
type ProgressCallback func(ImportProgress)

// ImportRequest carries the caller identity and records of one import run.
// Tenant and role are explicit so the pipeline never reads ambient state.
type ImportRequest struct {
	SchoolID  string
	ActorID   string
	ActorRole Role
	FileName  string
	Records   []ImportRecord

	// IgnoredColumns is filled when the records come from a parsed file.
	IgnoredColumns []string
}
