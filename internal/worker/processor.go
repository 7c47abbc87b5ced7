package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/learnhub/backend/internal/emaillogs"
	"github.com/learnhub/backend/internal/fulfillment"
	"github.com/learnhub/backend/pkg/mailer"
	"github.com/learnhub/backend/pkg/queue"
)

// Processor consumes fulfillment and email jobs from the Redis queue.
type Processor struct {
	fulfiller *fulfillment.Fulfiller
	mailer    *mailer.Mailer
	emailLogs *emaillogs.Repository
	queue     *queue.Queue
	logger    *zap.Logger
}

// NewProcessor creates a job processor.
func NewProcessor(fulfiller *fulfillment.Fulfiller, m *mailer.Mailer, emailLogs *emaillogs.Repository, q *queue.Queue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{fulfiller: fulfiller, mailer: m, emailLogs: emailLogs, queue: q, logger: logger}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeFulfillment:
		var payload queue.FulfillmentPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.fulfiller.Fulfill(ctx, payload.PaymentID)
	case queue.JobTypeEmail:
		var payload queue.EmailPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.sendEmail(ctx, payload)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (p *Processor) sendEmail(ctx context.Context, payload queue.EmailPayload) error {
	if !p.mailer.Enabled() {
		p.logger.Debug("mailer disabled, dropping email", zap.String("email_type", payload.EmailType))
		return nil
	}
	if err := p.mailer.Send(payload.Recipient, payload.Subject, payload.BodyHTML); err != nil {
		if logErr := p.emailLogs.LogFailed(ctx, payload.UserID, payload.PaymentID,
			payload.EmailType, payload.Recipient, payload.Subject, err.Error()); logErr != nil {
			p.logger.Error("log failed email", zap.Error(logErr))
		}
		return fmt.Errorf("send email: %w", err)
	}
	if err := p.emailLogs.LogSent(ctx, payload.UserID, payload.PaymentID,
		payload.EmailType, payload.Recipient, payload.Subject); err != nil {
		p.logger.Error("log sent email", zap.Error(err))
	}
	p.logger.Info("email sent",
		zap.String("email_type", payload.EmailType),
		zap.String("recipient", payload.Recipient))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, key, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("worker stopping")
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job, key); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
