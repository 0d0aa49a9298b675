package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/authguard-api/pkg/broker"
	"github.com/noah-isme/authguard-api/pkg/jobs"
)

// Notification kinds.
const (
	NotifyNewDeviceLogin = "new_device_login"
	NotifyAccountLocked  = "account_locked"
)

const notificationJobType = "notification"

// NotificationConfig tunes delivery.
type NotificationConfig struct {
	Enabled    bool
	Topic      string
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// NotificationMessage is the payload published for downstream mailers.
type NotificationMessage struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	Email      string                 `json:"email"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NotificationService sends user notifications in the background. Send never
// blocks the caller and never reports delivery failures.
type NotificationService struct {
	publisher broker.Publisher
	queue     *jobs.Queue
	logger    *zap.Logger
	config    NotificationConfig
	now       func() time.Time
}

// NewNotificationService constructs the service. A nil publisher logs
// messages instead of publishing them.
func NewNotificationService(publisher broker.Publisher, cfg NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = "auth.notifications"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	svc := &NotificationService{
		publisher: publisher,
		logger:    logger,
		config:    cfg,
		now:       time.Now,
	}
	svc.queue = jobs.NewQueue("notifications", svc.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnDrop: func(job jobs.Job, err error) {
			if msg, ok := job.Payload.(NotificationMessage); ok {
				logger.Error("notification dropped",
					zap.String("kind", msg.Kind),
					zap.String("email", MaskEmail(msg.Email)),
					zap.Error(err),
				)
			}
		},
	})
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	if !s.config.Enabled {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains in-flight deliveries and closes the publisher.
func (s *NotificationService) Stop() {
	s.queue.Stop()
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("failed to close notification publisher", zap.Error(err))
		}
	}
}

// Send enqueues a notification.
func (s *NotificationService) Send(ctx context.Context, email, kind string, data map[string]interface{}) {
	if s == nil || !s.config.Enabled || email == "" {
		return
	}
	msg := NotificationMessage{
		ID:         uuid.NewString(),
		Kind:       kind,
		Email:      email,
		Data:       data,
		OccurredAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(jobs.Job{ID: msg.ID, Type: notificationJobType, Payload: msg}); err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("kind", kind),
			zap.String("email", MaskEmail(email)),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(NotificationMessage)
	if !ok {
		return fmt.Errorf("unexpected notification payload %T", job.Payload)
	}

	if s.publisher == nil {
		s.logger.Info("notification",
			zap.String("kind", msg.Kind),
			zap.String("email", MaskEmail(msg.Email)),
		)
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return s.publisher.Publish(ctx, s.config.Topic, broker.Message{
		Key:   []byte(msg.Email),
		Value: body,
		Headers: map[string]string{
			"kind":    msg.Kind,
			"attempt": fmt.Sprintf("%d", job.Attempt),
		},
	})
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
