package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/skooler/internal/config"
	"github.com/JonMunkholm/skooler/internal/logging"
	"github.com/google/uuid"
)

// ErrRunNotFound is returned for unknown or already evicted async runs.
var ErrRunNotFound = errors.New("import run not found")

// Service provides the student import pipeline and its run tracking.
type Service struct {
	store   Store
	archive FileArchive // nil disables source file archiving
	cfg     config.ImportConfig
	limiter *ImportLimiter

	// now is replaced in tests.
	now func() time.Time

	mu   sync.RWMutex
	runs map[string]*activeRun
}

type activeRun struct {
	ID         string
	SchoolID   string
	Progress   ImportProgress
	Result     *ImportResult
	Err        error
	Done       chan struct{}
	Listeners  []chan ImportProgress
	ListenerMu sync.Mutex
}

// NewService creates a new Service. archive may be nil.
func NewService(store Store, archive FileArchive, cfg config.ImportConfig) *Service {
	return &Service{
		store:   store,
		archive: archive,
		cfg:     cfg,
		limiter: NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		now:     time.Now,
		runs:    make(map[string]*activeRun),
	}
}

// StartImport tokenizes data and runs the import in the background.
// Returns the run ID immediately. Use SubscribeProgress to get updates.
//
// Permission and file shape are checked before a slot is taken, so those
// errors are returned synchronously. Returns ErrTooManyImports if no slot
// becomes available within the configured wait time.
func (s *Service) StartImport(ctx context.Context, req ImportRequest, data []byte) (string, error) {
	if !req.ActorRole.CanImportStudents() {
		return "", ErrPermissionDenied
	}

	if err := s.parseFile(&req, data); err != nil {
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	runID := uuid.New().String()
	run := &activeRun{
		ID:       runID,
		SchoolID: req.SchoolID,
		Progress: ImportProgress{
			RunID:    runID,
			Phase:    PhaseStarting,
			FileName: req.FileName,
			Total:    len(req.Records),
		},
		Done: make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	// The run outlives the request that started it.
	runCtx, cancel := s.runContext(logging.With(ctx, "run_id", runID))

	// Process in background with panic recovery to ensure limiter release
	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logging.FromContext(runCtx).Error("panic in import",
					"school_id", req.SchoolID,
					"panic", r,
				)
				run.finish(nil, fmt.Errorf("internal error: %v", r))
				s.cleanup(runID)
			}
		}()

		result, err := s.ingest(runCtx, req, data, run.update)
		run.finish(result, err)
		s.cleanup(runID)
	}()

	return runID, nil
}

// SubscribeProgress returns a channel that receives progress updates.
// The channel is closed when the run completes.
func (s *Service) SubscribeProgress(runID string) (<-chan ImportProgress, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 10)

	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	// Send current progress immediately
	ch <- run.Progress

	select {
	case <-run.Done:
		close(ch)
	default:
		run.Listeners = append(run.Listeners, ch)
	}

	return ch, nil
}

// GetImportResult returns the result of a run.
// Blocks until the run completes or ctx is done.
func (s *Service) GetImportResult(ctx context.Context, runID string) (*ImportResult, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}

	select {
	case <-run.Done:
		return run.Result, run.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetImportProgress returns the current progress without blocking.
func (s *Service) GetImportProgress(runID string) (ImportProgress, error) {
	run, err := s.getRun(runID)
	if err != nil {
		return ImportProgress{}, err
	}

	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()
	return run.Progress, nil
}

// AuthorizeRun checks that the caller may observe a run. Runs of other
// schools are reported as not found; super admins see every run.
func (s *Service) AuthorizeRun(runID string, role Role, schoolID string) error {
	if !role.CanImportStudents() {
		return ErrPermissionDenied
	}
	run, err := s.getRun(runID)
	if err != nil {
		return err
	}
	if role != RoleSuperAdmin && run.SchoolID != schoolID {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// LimiterStatus returns the current state of the import slots.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until every background run has released its slot.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// MaxFileSize returns the configured upload size limit in bytes.
func (s *Service) MaxFileSize() int64 {
	return s.cfg.MaxFileSize
}

// runContext detaches a run from the caller's cancellation, keeping its
// values, and bounds it by the import timeout.
func (s *Service) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.timeout())
}

func (s *Service) timeout() time.Duration {
	if s.cfg.Timeout <= 0 {
		return 10 * time.Minute
	}
	return s.cfg.Timeout
}

func (s *Service) getRun(runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// update records p and sends it to all listeners.
func (run *activeRun) update(p ImportProgress) {
	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	p.RunID = run.ID
	run.Progress = p
	for _, ch := range run.Listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish stores the outcome, publishes the terminal progress and closes all listeners.
func (run *activeRun) finish(result *ImportResult, err error) {
	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	select {
	case <-run.Done:
		return
	default:
	}

	run.Result = result
	run.Err = err

	p := run.Progress
	if err != nil {
		p.Phase = PhaseFailed
		p.Error = FormatUserError(err)
	} else {
		p.Phase = PhaseComplete
		if result != nil {
			p.Total = result.TotalRecords
			p.Completed = result.TotalRecords
			p.Successful = result.SuccessfulImports
			p.Failed = result.FailedImports
		}
	}
	run.Progress = p

	for _, ch := range run.Listeners {
		// Terminal update must not be dropped; the buffer may be full.
		select {
		case ch <- p:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- p
		}
		close(ch)
	}
	run.Listeners = nil
	close(run.Done)
}

// cleanup removes the run from tracking after the retention delay.
func (s *Service) cleanup(runID string) {
	delay := s.cfg.RunRetention
	if delay <= 0 {
		delay = 5 * time.Minute
	}
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}
