package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// fakeStore is an in-memory Store for pipeline tests.
type fakeStore struct {
	mu sync.Mutex

	classes  []ClassRef
	listErr  error
	failFor  map[string]error // admission number -> CreateStudent error
	logErr   error
	students []NewStudent
	logs     map[string]*ImportLogEntry
	updates  []ImportLogUpdate

	listLimit   int
	purgeCutoff time.Time
	purgeCalls  int
	calls       int

	// delay is spent in every CreateStudent, honouring ctx like a database call.
	delay time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		failFor: make(map[string]error),
		logs:    make(map[string]*ImportLogEntry),
	}
}

func (f *fakeStore) ListClasses(ctx context.Context, schoolID string) ([]ClassRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.classes, nil
}

func (f *fakeStore) CreateStudent(ctx context.Context, s NewStudent) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.failFor[s.Record.AdmissionNumber]; err != nil {
		return "", err
	}
	f.students = append(f.students, s)
	return uuid.NewString(), nil
}

func (f *fakeStore) CreateImportLog(ctx context.Context, entry ImportLogEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.logErr != nil {
		return "", f.logErr
	}
	entry.ID = uuid.NewString()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	f.logs[entry.ID] = &entry
	return entry.ID, nil
}

func (f *fakeStore) UpdateImportLog(ctx context.Context, id string, u ImportLogUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	entry, ok := f.logs[id]
	if !ok {
		return ErrLogNotFound
	}
	f.updates = append(f.updates, u)
	entry.Status = u.Status
	entry.SuccessfulRecords = u.SuccessfulRecords
	entry.FailedRecords = u.FailedRecords
	entry.ErrorDetails = u.ErrorDetails
	completed := u.CompletedAt
	entry.CompletedAt = &completed
	return nil
}

func (f *fakeStore) ListImportLogs(ctx context.Context, schoolID string, limit int) ([]ImportLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listLimit = limit

	var out []ImportLogEntry
	for _, e := range f.logs {
		if e.SchoolID == schoolID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetImportLog(ctx context.Context, id string) (*ImportLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.logs[id]
	if !ok {
		return nil, ErrLogNotFound
	}
	cp := *entry
	return &cp, nil
}

func (f *fakeStore) PurgeImportLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purgeCalls++
	f.purgeCutoff = olderThan

	var n int64
	for id, e := range f.logs {
		if e.CreatedAt.Before(olderThan) {
			delete(f.logs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStore) studentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.students)
}

func (f *fakeStore) onlyLog() *ImportLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.logs {
		return e
	}
	return nil
}

// fakeArchive records archived objects.
type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (a *fakeArchive) Put(ctx context.Context, key string, data []byte, contentType string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.objects[key] = data
	a.types[key] = contentType
	return nil
}

var errInsert = errors.New("duplicate key value violates unique constraint \"students_school_admission_unique\"")
