package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/skooler/internal/core"
	mw "github.com/JonMunkholm/skooler/internal/web/middleware"
	"github.com/JonMunkholm/skooler/internal/web/templates"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead is allowed on top of the file size for form boundaries
// and the other fields.
const multipartOverhead = 1 << 20

// importResponse is the JSON body of a synchronous import.
type importResponse struct {
	*core.ImportResult
	Message        string `json:"message,omitempty"`
	FailureMessage string `json:"failureMessage,omitempty"`
}

// handleImport accepts a multipart upload in the "file" field.
// With async=true the run continues in the background and only its id is returned.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	id, _ := mw.IdentityFromContext(r.Context())

	// A zero IMPORT_MAX_FILE_SIZE disables the upload limit.
	if maxSize := s.service.MaxFileSize(); maxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	}

	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		s.respondError(w, r, fmt.Errorf("parse form: %w", err), 0)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}
	defer file.Close()

	req := core.ImportRequest{
		SchoolID:  id.SchoolID,
		ActorID:   id.ActorID,
		ActorRole: id.Role,
		FileName:  header.Filename,
	}
	// Super admins may import on behalf of another school.
	if target := r.FormValue("school_id"); target != "" && id.Role == core.RoleSuperAdmin {
		req.SchoolID = target
	}

	if r.FormValue("async") == "true" {
		s.startImport(w, r, req, file)
		return
	}

	result, err := s.service.ImportFile(r.Context(), req, file, nil)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	resp := importResponse{ImportResult: result}
	if result.SuccessfulImports > 0 {
		resp.Message = fmt.Sprintf("Successfully imported %d students", result.SuccessfulImports)
	}
	if result.FailedImports > 0 {
		resp.FailureMessage = fmt.Sprintf("Failed to import %d students", result.FailedImports)
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.ImportSummary(result, summaryMessage(result)).Render(r.Context(), w)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) startImport(w http.ResponseWriter, r *http.Request, req core.ImportRequest, file io.Reader) {
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("read upload: %w", err), 0)
		return
	}

	runID, err := s.service.StartImport(r.Context(), req, data)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// handleImportProgress streams run progress via Server-Sent Events.
// The event id is the progress percentage; a reconnecting client sends it
// back as lastEventId (or Last-Event-ID) and older events are skipped.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !s.authorizeRun(w, r, runID) {
		return
	}

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, fmt.Errorf("streaming not supported"), http.StatusInternalServerError)
		return
	}

	progressCh, err := s.service.SubscribeProgress(runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			eventID := int(progress.Percent())
			terminal := progress.Phase == core.PhaseComplete || progress.Phase == core.PhaseFailed
			if eventID <= lastEventID && !terminal {
				continue
			}
			lastEventID = eventID

			data, err := json.Marshal(progress)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", eventID, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleImportRun returns the current progress of a run without blocking,
// for clients that poll instead of streaming.
func (s *Server) handleImportRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !s.authorizeRun(w, r, runID) {
		return
	}

	progress, err := s.service.GetImportProgress(runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.ImportRunStatus(progress).Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// handleImportResult waits for a background run and returns its result.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if !s.authorizeRun(w, r, runID) {
		return
	}

	result, err := s.service.GetImportResult(r.Context(), runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.ImportSummary(result, summaryMessage(result)).Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleImportStatus reports how many import slots are in use.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}

// handleImportHistory lists the caller's school import log.
func (s *Server) handleImportHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := mw.IdentityFromContext(r.Context())

	schoolID := id.SchoolID
	if target := r.URL.Query().Get("school_id"); target != "" && id.Role == core.RoleSuperAdmin {
		schoolID = target
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := s.service.ListImportLogs(r.Context(), id.Role, schoolID, limit)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		templates.ImportHistory(logs).Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": logs})
}

// handleImportLog returns a single log entry.
func (s *Server) handleImportLog(w http.ResponseWriter, r *http.Request) {
	id, _ := mw.IdentityFromContext(r.Context())

	entry, err := s.service.GetImportLog(r.Context(), id.Role, id.SchoolID, chi.URLParam(r, "logID"))
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleDownloadTemplate serves the blank import template.
// ?example=true adds one sample student row.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, core.TemplateFileName))

	if err := core.WriteTemplate(w, r.URL.Query().Get("example") == "true"); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
	}
}

// handleHealth reports liveness and, when configured, database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorizeRun writes an error response and returns false when the caller
// may not observe runID.
func (s *Server) authorizeRun(w http.ResponseWriter, r *http.Request, runID string) bool {
	id, _ := mw.IdentityFromContext(r.Context())
	if err := s.service.AuthorizeRun(runID, id.Role, id.SchoolID); err != nil {
		s.respondError(w, r, err, 0)
		return false
	}
	return true
}

// summaryMessage returns the headline shown above a result summary.
func summaryMessage(result *core.ImportResult) string {
	if result.SuccessfulImports == 0 && result.FailedImports > 0 {
		return fmt.Sprintf("Failed to import %d students", result.FailedImports)
	}
	return fmt.Sprintf("Successfully imported %d students", result.SuccessfulImports)
}
