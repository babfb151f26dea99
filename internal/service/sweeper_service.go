package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/deals-auth-api/pkg/jobs"
)

type staleTokenDeleter interface {
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteStaleForUser(ctx context.Context, userID string, cutoff time.Time) (int64, error)
}

// SweeperConfig tunes the stale refresh token sweeper.
type SweeperConfig struct {
	RetentionWindow time.Duration
	SweepInterval   time.Duration
	WorkerCount     int
}

// SweeperService purges refresh tokens that are both revoked and expired
// beyond the retention window. The retention window keeps consumed rows
// around briefly for forensic inspection before they are deleted for good.
// Deletions are idempotent and only ever touch rows the hot path has already
// excluded, so the sweeper needs no coordination with refresh traffic.
type SweeperService struct {
	tokens  staleTokenDeleter
	metrics *MetricsService
	logger  *zap.Logger
	config  SweeperConfig
	queue   *jobs.Queue
	cancel  context.CancelFunc
}

// NewSweeperService constructs a sweeper.
func NewSweeperService(tokens staleTokenDeleter, metrics *MetricsService, logger *zap.Logger, config SweeperConfig) *SweeperService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RetentionWindow <= 0 {
		config.RetentionWindow = 24 * time.Hour
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Hour
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	s := &SweeperService{tokens: tokens, metrics: metrics, logger: logger, config: config}
	s.queue = jobs.NewQueue("token-sweeper", s.handleJob, jobs.QueueConfig{
		Workers: config.WorkerCount,
		Logger:  logger,
	})
	return s
}

// Start launches the queue workers and the periodic full sweep.
func (s *SweeperService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.queue.Start(ctx)

	go func() {
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Purge(ctx, ""); err != nil {
					s.logger.Warn("periodic token sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop shuts down workers and the ticker loop.
func (s *SweeperService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.queue.Stop()
}

// Purge deletes stale rows, for one user when userID is set or for the whole
// table when empty. Returns the number of rows removed.
func (s *SweeperService) Purge(ctx context.Context, userID string) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.config.RetentionWindow)

	var (
		deleted int64
		err     error
	)
	if userID == "" {
		deleted, err = s.tokens.DeleteStale(ctx, cutoff)
	} else {
		deleted, err = s.tokens.DeleteStaleForUser(ctx, userID, cutoff)
	}
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("purged stale refresh tokens",
			zap.Int64("deleted", deleted),
			zap.String("user_id", userID),
			zap.Time("cutoff", cutoff))
	}
	if s.metrics != nil {
		s.metrics.RecordSweep(deleted)
	}
	return deleted, nil
}

// EnqueueUserSweep schedules an asynchronous per-user purge. Called from the
// refresh hot path, which must not block on deletions.
func (s *SweeperService) EnqueueUserSweep(userID string) error {
	return s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "user-sweep",
		Payload: userID,
	})
}

func (s *SweeperService) handleJob(ctx context.Context, job jobs.Job) error {
	userID, _ := job.Payload.(string)
	_, err := s.Purge(ctx, userID)
	return err
}
