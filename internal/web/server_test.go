package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/skooler/internal/auth"
	"github.com/JonMunkholm/skooler/internal/config"
	"github.com/JonMunkholm/skooler/internal/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret-that-is-at-least-32-bytes-long"
	schoolA    = "5f1c2a9e-0d3b-4a6f-8c21-7e9b4d3a1f00"
	schoolB    = "7c4d1e2f-3a5b-4c6d-8e9f-0a1b2c3d4e5f"
	adminID    = "9a0e1d6c-2b7f-4e38-a5c4-1f2d3e4b5c6d"
)

const validCSV = "firstName,lastName,email,admissionNumber\n" +
	"Ada,Lovelace,ada@example.com,ADM-1\n" +
	"Grace,Hopper,grace@example.com,ADM-2\n"

// memStore is a minimal in-memory core.Store.
type memStore struct {
	mu       sync.Mutex
	students []core.NewStudent
	logs     map[string]core.ImportLogEntry

	// delay is spent in every CreateStudent, honouring ctx like a database call.
	delay time.Duration
}

func newMemStore() *memStore {
	return &memStore{logs: make(map[string]core.ImportLogEntry)}
}

func (m *memStore) ListClasses(ctx context.Context, schoolID string) ([]core.ClassRef, error) {
	return nil, nil
}

func (m *memStore) CreateStudent(ctx context.Context, s core.NewStudent) (string, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students = append(m.students, s)
	return uuid.NewString(), nil
}

func (m *memStore) CreateImportLog(ctx context.Context, e core.ImportLogEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now()
	m.logs[e.ID] = e
	return e.ID, nil
}

func (m *memStore) UpdateImportLog(ctx context.Context, id string, u core.ImportLogUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.logs[id]
	if !ok {
		return core.ErrLogNotFound
	}
	e.Status = u.Status
	e.SuccessfulRecords = u.SuccessfulRecords
	e.FailedRecords = u.FailedRecords
	m.logs[id] = e
	return nil
}

func (m *memStore) ListImportLogs(ctx context.Context, schoolID string, limit int) ([]core.ImportLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.ImportLogEntry
	for _, e := range m.logs {
		if e.SchoolID == schoolID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) GetImportLog(ctx context.Context, id string) (*core.ImportLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.logs[id]
	if !ok {
		return nil, core.ErrLogNotFound
	}
	return &e, nil
}

func (m *memStore) PurgeImportLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Import: config.ImportConfig{
			MaxFileSize:   1 << 20,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			Timeout:       time.Minute,
			RunRetention:  time.Minute,
			HistoryLimit:  50,
		},
		Security: config.SecurityConfig{JWTSecret: testSecret, EnableCSP: true},
	}
}

type testEnv struct {
	server *Server
	store  *memStore
	jwt    *auth.JWTService
}

func newTestEnv(t *testing.T, health HealthChecker) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, testConfig(), newMemStore(), health)
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config, store *memStore, health HealthChecker) *testEnv {
	t.Helper()
	jwtSvc := auth.NewJWTService(testSecret, "")
	svc := core.NewService(store, nil, cfg.Import)
	return &testEnv{
		server: NewServer(svc, cfg, jwtSvc, health),
		store:  store,
		jwt:    jwtSvc,
	}
}

func (e *testEnv) token(t *testing.T, role core.Role, schoolID string) string {
	t.Helper()
	tok, err := e.jwt.GenerateAccessToken(adminID, schoolID, string(role), time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, token, fileName, content string, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := newTestEnv(t, pingFunc(func(context.Context) error { return errors.New("connection refused") }))
	rec = down.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestDownloadTemplate(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/imports/template", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), core.TemplateFileName)
	assert.Equal(t, strings.Join(core.TemplateColumns, ",")+"\n", rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/imports/template?example=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"), 2)
}

func TestImport_RequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(uploadRequest(t, "", "students.csv", validCSV, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH002", decodeError(t, rec).Code)

	rec = env.do(uploadRequest(t, "not-a-jwt", "students.csv", validCSV, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH003", decodeError(t, rec).Code)
}

func TestImport_Forbidden(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(uploadRequest(t, env.token(t, core.RoleTeacher, schoolA), "students.csv", validCSV, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "AUTH001", decodeError(t, rec).Code)
	assert.Empty(t, env.store.students)
}

func TestImport_Sync(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(uploadRequest(t, env.token(t, core.RoleSchoolAdmin, schoolA), "students.csv", validCSV, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		TotalRecords      int    `json:"totalRecords"`
		SuccessfulImports int    `json:"successfulImports"`
		FailedImports     int    `json:"failedImports"`
		Message           string `json:"message"`
		FailureMessage    string `json:"failureMessage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalRecords)
	assert.Equal(t, 2, resp.SuccessfulImports)
	assert.Equal(t, "Successfully imported 2 students", resp.Message)
	assert.Empty(t, resp.FailureMessage)

	require.Len(t, env.store.students, 2)
	assert.Equal(t, schoolA, env.store.students[0].SchoolID)
}

func TestImport_ValidationFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	csv := "firstName,lastName,email,admissionNumber\nAda,Lovelace,not-an-email,ADM-1\nGrace,Hopper,grace@example.com,ADM-2\n"

	rec := env.do(uploadRequest(t, env.token(t, core.RoleSchoolAdmin, schoolA), "students.csv", csv, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		FailedImports  int                `json:"failedImports"`
		Errors         []core.ImportError `json:"errors"`
		FailureMessage string             `json:"failureMessage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.FailedImports)
	assert.Equal(t, "Failed to import 2 students", resp.FailureMessage)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, core.ImportError{Row: 2, Field: "email", Value: "not-an-email", Error: "Invalid email format"}, resp.Errors[0])
	assert.Empty(t, env.store.students)
}

func TestImport_BadRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, core.RoleSchoolAdmin, schoolA)

	tests := []struct {
		name       string
		file       string
		content    string
		wantStatus int
		wantCode   string
	}{
		{name: "no file", file: "", wantStatus: http.StatusBadRequest, wantCode: "FILE004"},
		{name: "column mismatch", file: "students.csv", content: "firstName,lastName\nAda\n", wantStatus: http.StatusBadRequest, wantCode: "FILE002"},
		{name: "header only", file: "students.csv", content: "firstName,lastName\n", wantStatus: http.StatusBadRequest, wantCode: "FILE005"},
		{name: "unsupported extension", file: "students.pdf", content: validCSV, wantStatus: http.StatusBadRequest, wantCode: "FILE003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(uploadRequest(t, token, tt.file, tt.content, nil))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestImport_HTMX(t *testing.T) {
	env := newTestEnv(t, nil)

	req := uploadRequest(t, env.token(t, core.RoleSchoolAdmin, schoolA), "students.csv", validCSV, nil)
	req.Header.Set("HX-Request", "true")
	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Successfully imported 2 students")
}

func TestImport_HTMXError(t *testing.T) {
	env := newTestEnv(t, nil)

	req := uploadRequest(t, env.token(t, core.RoleSchoolAdmin, schoolA), "students.csv", "firstName\n", nil)
	req.Header.Set("HX-Request", "true")
	rec := env.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "FILE005")
	assert.Contains(t, rec.Body.String(), `role="alert"`)
}

func startAsync(t *testing.T, env *testEnv, token string) string {
	t.Helper()

	rec := env.do(uploadRequest(t, token, "students.csv", validCSV, map[string]string{"async": "true"}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["run_id"])
	return resp["run_id"]
}

func authedGet(path, token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestImport_AsyncResultAndProgress(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, core.RoleSchoolAdmin, schoolA)
	runID := startAsync(t, env, token)

	rec := env.do(authedGet("/api/imports/runs/"+runID+"/result", token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result core.ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.SuccessfulImports)

	// The run is finished, so the stream replays the final state and ends.
	rec = env.do(authedGet("/api/imports/runs/"+runID+"/progress", token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "id: 100\nevent: progress\n")
	assert.Contains(t, body, `"phase":"complete"`)
	assert.True(t, strings.HasSuffix(body, "event: complete\ndata: {}\n\n"), body)
}

func TestImport_AsyncOtherSchool(t *testing.T) {
	env := newTestEnv(t, nil)
	runID := startAsync(t, env, env.token(t, core.RoleSchoolAdmin, schoolA))

	other := env.token(t, core.RoleSchoolAdmin, schoolB)
	rec := env.do(authedGet("/api/imports/runs/"+runID+"/result", other))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "IMP002", decodeError(t, rec).Code)

	super := env.token(t, core.RoleSuperAdmin, schoolB)
	rec = env.do(authedGet("/api/imports/runs/"+runID+"/result", super))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestImport_UnknownRun(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, core.RoleSchoolAdmin, schoolA)

	rec := env.do(authedGet("/api/imports/runs/missing/progress", token))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, core.RoleSchoolAdmin, schoolA)

	rec := env.do(uploadRequest(t, token, "students.csv", validCSV, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(authedGet("/api/imports", token))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Imports []core.ImportLogEntry `json:"imports"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Imports, 1)
	entry := resp.Imports[0]
	assert.Equal(t, core.LogStatusCompleted, entry.Status)
	assert.Equal(t, 2, entry.SuccessfulRecords)

	rec = env.do(authedGet("/api/imports/"+entry.ID, token))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(authedGet("/api/imports/"+entry.ID, env.token(t, core.RoleSchoolAdmin, schoolB)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := authedGet("/api/imports", token)
	req.Header.Set("HX-Request", "true")
	rec = env.do(req)
	assert.Contains(t, rec.Body.String(), "students.csv")
}

func TestImportStatus(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(authedGet("/api/imports/status", env.token(t, core.RoleSchoolAdmin, schoolA)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":0,"available":2,"max_concurrent":2}`, rec.Body.String())
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     2,
		window:   time.Minute,
		now:      func() time.Time { return now },
	}

	assert.True(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"), "limits are per IP")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.allow("10.0.0.1"), "window reset")
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     1,
		window:   time.Minute,
		now:      time.Now,
	}
	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i, want := range []int{http.StatusNoContent, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, fmt.Sprintf("request %d", i+1))
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrPermissionDenied, http.StatusForbidden},
		{fmt.Errorf("wrap: %w", core.ErrFileTooLarge), http.StatusRequestEntityTooLarge},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{&core.MalformedInputError{Line: 2, Reason: "x"}, http.StatusBadRequest},
		{core.ErrUnsupportedFileType, http.StatusBadRequest},
		{errNoFile, http.StatusBadRequest},
		{core.ErrTooManyImports, http.StatusServiceUnavailable},
		{core.ErrRunNotFound, http.StatusNotFound},
		{core.ErrLogNotFound, http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestImport_SyncOutlivesRequestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RequestTimeout = 250 * time.Millisecond
	cfg.Import.Timeout = time.Minute
	store := newMemStore()
	store.delay = 60 * time.Millisecond
	env := newTestEnvWithConfig(t, cfg, store, nil)

	var csv strings.Builder
	csv.WriteString("firstName,lastName,email,admissionNumber\n")
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(&csv, "Student,%d,s%d@example.com,ADM-%d\n", i, i, i)
	}

	rec := env.do(uploadRequest(t, env.token(t, core.RoleSchoolAdmin, schoolA), "students.csv", csv.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		SuccessfulImports int                `json:"successfulImports"`
		FailedImports     int                `json:"failedImports"`
		Errors            []core.ImportError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.SuccessfulImports)
	assert.Zero(t, resp.FailedImports)
	assert.Empty(t, resp.Errors)
	assert.Len(t, store.students, 6)
}

func TestImport_SyncStoppedByImportTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Import.Timeout = 150 * time.Millisecond
	store := newMemStore()
	store.delay = 100 * time.Millisecond
	env := newTestEnvWithConfig(t, cfg, store, nil)

	var csv strings.Builder
	csv.WriteString("firstName,lastName,email,admissionNumber\n")
	for i := 1; i <= 6; i++ {
		fmt.Fprintf(&csv, "Student,%d,s%d@example.com,ADM-%d\n", i, i, i)
	}

	rec := env.do(uploadRequest(t, env.token(t, core.RoleSchoolAdmin, schoolA), "students.csv", csv.String(), nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())
	assert.Equal(t, "IMP004", decodeError(t, rec).Code)
	assert.Less(t, len(store.students), 6)

	logs, err := store.ListImportLogs(context.Background(), schoolA, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, core.LogStatusFailed, logs[0].Status)
}

func TestImport_NoSizeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Import.MaxFileSize = 0
	env := newTestEnvWithConfig(t, cfg, newMemStore(), nil)

	csv := "firstName,lastName,email,admissionNumber,notes\n" +
		"Ada,Lovelace,ada@example.com,ADM-1," + strings.Repeat("x", 3<<20) + "\n"

	rec := env.do(uploadRequest(t, env.token(t, core.RoleSchoolAdmin, schoolA), "students.csv", csv, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result core.ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.SuccessfulImports)
	assert.Equal(t, []string{"notes"}, result.IgnoredColumns)
}

func TestImport_SizeLimit(t *testing.T) {
	env := newTestEnv(t, nil)

	csv := "firstName,lastName,email,admissionNumber,notes\n" +
		"Ada,Lovelace,ada@example.com,ADM-1," + strings.Repeat("x", 3<<20) + "\n"

	rec := env.do(uploadRequest(t, env.token(t, core.RoleSchoolAdmin, schoolA), "students.csv", csv, nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Equal(t, "FILE001", decodeError(t, rec).Code)
}

func TestImport_PollRun(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.token(t, core.RoleSchoolAdmin, schoolA)
	runID := startAsync(t, env, token)

	rec := env.do(authedGet("/api/imports/runs/"+runID+"/result", token))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(authedGet("/api/imports/runs/"+runID, token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var progress core.ImportProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &progress))
	assert.Equal(t, runID, progress.RunID)
	assert.Equal(t, core.PhaseComplete, progress.Phase)
	assert.Equal(t, 2, progress.Successful)

	req := authedGet("/api/imports/runs/"+runID, token)
	req.Header.Set("HX-Request", "true")
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-phase="complete"`)
	assert.Contains(t, rec.Body.String(), "2 of 2 records")

	rec = env.do(authedGet("/api/imports/runs/"+runID, env.token(t, core.RoleSchoolAdmin, schoolB)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRespondError_LogLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	env := newTestEnv(t, nil)

	tests := []struct {
		name      string
		err       error
		status    int
		wantLevel string
		wantCode  string
	}{
		{"mapped client error", errNoFile, http.StatusBadRequest, "WARN", "FILE004"},
		{"unmapped client error", errors.New("boom"), http.StatusBadRequest, "ERROR", "ERR000"},
		{"server error", core.ErrTooManyImports, http.StatusInternalServerError, "ERROR", "IMP001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			rec := httptest.NewRecorder()
			env.server.respondError(rec, httptest.NewRequest(http.MethodGet, "/api/imports", nil), tt.err, tt.status)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.wantCode, entry["code"])
			assert.Equal(t, tt.err.Error(), entry["error"])
		})
	}
}
