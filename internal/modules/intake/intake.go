package intake

import (
	"context"
	"errors"
	"time"

	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/modules/audit"
	"github.com/formgate/core/internal/modules/otp"
	"github.com/formgate/core/internal/modules/serial"
	redispkg "github.com/formgate/core/internal/pkg/redis"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	queueKey     = "fg:intake"
	popInterval  = 5 * time.Second
	processedTTL = time.Hour
)

// Queue carries submission IDs from the accepting handler to the reactor.
// Delivery is at-least-once; the reactor keys its idempotence on the
// submission's persisted status.
type Queue struct {
	redis *redispkg.Client
}

func NewQueue(redis *redispkg.Client) *Queue {
	return &Queue{redis: redis}
}

func (q *Queue) Enqueue(ctx context.Context, submissionID string) error {
	return q.redis.LPush(ctx, queueKey, submissionID)
}

func (q *Queue) pop(ctx context.Context) (string, error) {
	return q.redis.BRPop(ctx, popInterval, queueKey)
}

// claim marks a submission as handled before processing starts. A false
// return means another delivery already claimed it and this one can be
// dropped. The claim must be released if processing fails, otherwise the
// requeued ID would be skipped.
func (q *Queue) claim(ctx context.Context, submissionID string) (bool, error) {
	return q.redis.SetNX(ctx, queueKey+":done:"+submissionID, "1", processedTTL)
}

func (q *Queue) release(ctx context.Context, submissionID string) error {
	return q.redis.Del(ctx, queueKey+":done:"+submissionID)
}

// Reactor processes one submission at a time: validate the access code,
// allocate a serial, finalize the record, write the audit trail. Both
// failure branches are terminal: fraud deletes the submission, allocation
// failure leaves it in an error status.
type Reactor struct {
	db        *gorm.DB
	codes     *otp.Service
	allocator *serial.Allocator
	audit     *audit.Service
	log       *zap.Logger
}

func NewReactor(db *gorm.DB, codes *otp.Service, allocator *serial.Allocator, auditSvc *audit.Service, log *zap.Logger) *Reactor {
	return &Reactor{db: db, codes: codes, allocator: allocator, audit: auditSvc, log: log}
}

// Process runs the intake pipeline for one submission. Redelivery safe:
// a submission that already left the pending state is skipped.
func (r *Reactor) Process(ctx context.Context, submissionID string) error {
	var sub models.SubmissionModel
	err := r.db.First(&sub, "id = ?", submissionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Already deleted (fraud branch of an earlier delivery) or purged.
		return nil
	}
	if err != nil {
		return err
	}
	if sub.Status != models.SubmissionPending {
		return nil
	}

	// Validate.
	if err := r.codes.Consume(sub.AccessCodeID, sub.OTP); err != nil {
		if errors.Is(err, otp.ErrCodeMismatch) {
			return r.rejectFraud(&sub)
		}
		return err
	}

	// Allocate. A submission without a form reference has nothing to number.
	if sub.FormID == "" {
		return nil
	}
	serialNumber, allocErr := r.allocator.Next(sub.FormID)
	if allocErr != nil {
		return r.failAllocation(&sub, allocErr)
	}

	// Finalize.
	if err := r.db.Model(&sub).Updates(map[string]interface{}{
		"serial_number": serialNumber,
		"status":        models.SubmissionSubmitted,
	}).Error; err != nil {
		return err
	}

	r.audit.Record("System", models.LogTraffic, "submission.accepted",
		"submission accepted and serialized",
		map[string]interface{}{
			"form_id":       sub.FormID,
			"submission_id": sub.ID,
			"serial_number": serialNumber,
		})
	return nil
}

// rejectFraud deletes the offending submission outright. The record never
// came through the code-gated path, so it must not survive with any status.
func (r *Reactor) rejectFraud(sub *models.SubmissionModel) error {
	if err := r.db.Unscoped().Delete(&models.SubmissionModel{}, "id = ?", sub.ID).Error; err != nil {
		return err
	}
	r.audit.Record("System", models.LogSecurity, "submission.fraud",
		"access code mismatch, submission deleted",
		map[string]interface{}{
			"form_id":        sub.FormID,
			"submission_id":  sub.ID,
			"access_code_id": sub.AccessCodeID,
			"claimed_otp":    sub.OTP,
		})
	return nil
}

// failAllocation parks the submission in a terminal error status. One
// allocation attempt only; the allocator has its own internal retry.
func (r *Reactor) failAllocation(sub *models.SubmissionModel, cause error) error {
	if err := r.db.Model(sub).Update("status", models.SubmissionErrorNoSerial).Error; err != nil {
		return err
	}
	r.audit.Record("System", models.LogTraffic, "submission.serial_failed",
		"serial allocation failed, submission marked error",
		map[string]interface{}{
			"form_id":       sub.FormID,
			"submission_id": sub.ID,
			"error":         cause.Error(),
		})
	return nil
}

// Consumer drains the queue until its context is cancelled.
type Consumer struct {
	queue   *Queue
	reactor *Reactor
	log     *zap.Logger
}

func NewConsumer(queue *Queue, reactor *Reactor, log *zap.Logger) *Consumer {
	return &Consumer{queue: queue, reactor: reactor, log: log}
}

// Run blocks, popping submission IDs and feeding them to the reactor.
// Processing errors are logged and the ID is requeued so a transient
// database failure does not drop the event.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, err := c.queue.pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("intake queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if id == "" {
			continue
		}

		claimed, err := c.queue.claim(ctx, id)
		if err != nil {
			c.log.Error("intake claim failed",
				zap.String("submission_id", id),
				zap.Error(err))
		} else if !claimed {
			continue
		}

		if err := c.reactor.Process(ctx, id); err != nil {
			c.log.Error("intake processing failed",
				zap.String("submission_id", id),
				zap.Error(err))
			if releaseErr := c.queue.release(ctx, id); releaseErr != nil {
				c.log.Error("intake claim release failed",
					zap.String("submission_id", id),
					zap.Error(releaseErr))
			}
			if requeueErr := c.queue.Enqueue(ctx, id); requeueErr != nil {
				c.log.Error("intake requeue failed",
					zap.String("submission_id", id),
					zap.Error(requeueErr))
			}
			time.Sleep(time.Second)
		}
	}
}
