package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Dombom123/viral-launch-video/internal/export"
)

// ErrInvalidRequest wraps every rejected export request.
var ErrInvalidRequest = errors.New("invalid export request")

const maxFPS = 120

type Service struct {
	repo   Repository
	logger *slog.Logger
	notify func()
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// SetNotifier registers fn to be called after a job is queued, typically
// Worker.Notify.
func (s *Service) SetNotifier(fn func()) {
	s.notify = fn
}

// Submit validates req and queues it as a pending job.
func (s *Service) Submit(ctx context.Context, req Request) (*Job, error) {
	if err := normalize(&req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Format:    req.Format,
		FPS:       req.FPS,
		Duration:  req.Duration,
		RunID:     req.RunID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("export queued", "export_id", job.ID, "kind", job.Kind, "format", job.Format)
	}
	if s.notify != nil {
		s.notify()
	}
	return job, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *Service) List(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

// ActiveCount returns the number of pending and running jobs among the
// most recent ones.
func (s *Service) ActiveCount(ctx context.Context) int {
	jobs, err := s.repo.ListJobs(ctx, 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, j := range jobs {
		if !j.Done() {
			count++
		}
	}
	return count
}

func normalize(req *Request) error {
	switch req.Kind {
	case KindVideo:
		req.Format = "mp4"
	case KindAudio:
		f, err := export.LookupAudioFormat(req.Format)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		req.Format = f.Name
	case KindEDL:
		req.Format = "edl"
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}

	if req.FPS < 0 || req.FPS > maxFPS {
		return fmt.Errorf("%w: fps must be between 0 and %d", ErrInvalidRequest, maxFPS)
	}
	if req.Duration < 0 {
		return fmt.Errorf("%w: duration must be >= 0", ErrInvalidRequest)
	}
	return nil
}
