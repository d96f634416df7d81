package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/salvemundi/attendance/internal/metrics"
	"github.com/salvemundi/attendance/internal/models"
	"github.com/salvemundi/attendance/internal/signups"
	"github.com/salvemundi/attendance/pkg/queue"
	"github.com/salvemundi/attendance/pkg/storage"
)

// dequeueTimeout bounds each blocking pop so shutdown is noticed promptly.
const dequeueTimeout = 5 * time.Second

// SignupStore is the signup persistence the processor needs.
type SignupStore interface {
	GetByID(ctx context.Context, id int64) (*models.Signup, error)
	SetQRImageKey(ctx context.Context, id int64, key string) error
}

// Renderer draws a ticket QR image.
type Renderer interface {
	PNG(payload string) ([]byte, error)
}

// Archive stores rendered tickets.
type Archive interface {
	UploadTicket(ctx context.Context, key string, png []byte) error
}

// JobQueue is the queue the processor consumes.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (bool, error)
}

// TicketProcessor renders ticket QR images and archives them: load signup, render, upload to S3, update DB.
type TicketProcessor struct {
	signups  SignupStore
	renderer Renderer
	archive  Archive
	queue    JobQueue
	logger   *zap.Logger
	backoff  time.Duration
}

// NewTicketProcessor creates a ticket render processor.
func NewTicketProcessor(store SignupStore, renderer Renderer, archive Archive, q JobQueue, logger *zap.Logger) *TicketProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketProcessor{signups: store, renderer: renderer, archive: archive, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one ticket render job.
func (p *TicketProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeTicketRender {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.TicketRenderPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	signup, err := p.signups.GetByID(ctx, payload.SignupID)
	if errors.Is(err, signups.ErrNotFound) {
		p.logger.Info("signup gone, dropping ticket job", zap.Int64("signup_id", payload.SignupID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load signup: %w", err)
	}
	if signup.QRToken == nil || *signup.QRToken != payload.Token {
		// The stored token is authoritative; a stale job must not archive a different code.
		p.logger.Warn("ticket job token mismatch, dropping", zap.Int64("signup_id", signup.ID))
		return nil
	}
	if signup.QRImageKey != nil {
		p.logger.Debug("ticket already archived", zap.Int64("signup_id", signup.ID))
		return nil
	}

	png, err := p.renderer.PNG(payload.Token)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	key := storage.TicketKey(signup.EventID, signup.ID)
	if err := p.archive.UploadTicket(ctx, key, png); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.signups.SetQRImageKey(ctx, signup.ID, key); err != nil {
		return fmt.Errorf("update db: %w", err)
	}

	p.logger.Info("ticket archived", zap.Int64("signup_id", signup.ID), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *TicketProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ticket worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			dead, reErr := p.queue.Retry(ctx, job)
			if reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			if dead {
				metrics.TrackTicketJob("dead_lettered")
			} else {
				metrics.TrackTicketJob("retried")
			}
			p.sleep(ctx)
			continue
		}
		metrics.TrackTicketJob("done")
	}
}

func (p *TicketProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
