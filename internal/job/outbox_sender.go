package job

import (
	"context"
	"sync"
	"time"

	"loyaltysystem/internal/config"
	"loyaltysystem/internal/infrastructure/mq"
	"loyaltysystem/internal/model"
	"loyaltysystem/internal/repository"

	log "github.com/sirupsen/logrus"
)

// OutboxSender relays pending outbox messages to the broker. Delivery is at
// least once; consumers key on the message key.
type OutboxSender struct {
	store     repository.OutboxStore
	publisher mq.Publisher
	stopCh    chan struct{}
	stopOnce  sync.Once
	interval  time.Duration
	batchSize int
	maxRetry  int
}

func NewOutboxSender(store repository.OutboxStore, publisher mq.Publisher, cfg config.OutboxJobConfig) *OutboxSender {
	s := &OutboxSender{
		store:     store,
		publisher: publisher,
		stopCh:    make(chan struct{}),
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		maxRetry:  cfg.MaxRetry,
	}
	if s.interval <= 0 {
		s.interval = 500 * time.Millisecond
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.maxRetry <= 0 {
		s.maxRetry = 5
	}
	return s
}

func (s *OutboxSender) Start(ctx context.Context) {
	log.WithField("job", "outbox").Info("[OutboxSender] started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.WithField("job", "outbox").Info("[OutboxSender] context done, exiting")
			return
		case <-s.stopCh:
			log.WithField("job", "outbox").Info("[OutboxSender] stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// processPendingMessages sends one batch and returns how many were delivered.
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.WithFields(log.Fields{"job": "outbox", "error": err}).Error("[OutboxSender] load pending messages failed")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	fields := log.Fields{
		"job":   "outbox",
		"id":    msg.ID,
		"topic": msg.Topic,
		"key":   msg.MessageKey,
	}

	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		if err := s.store.MarkSent(ctx, msg.ID); err != nil {
			log.WithFields(fields).WithError(err).Error("[OutboxSender] mark sent failed")
		} else {
			log.WithFields(fields).Debug("[OutboxSender] message sent")
		}
		return true
	}

	log.WithFields(fields).WithError(err).Warn("[OutboxSender] publish failed")

	if err := s.store.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.WithFields(fields).WithError(err).Error("[OutboxSender] increment retry count failed")
	}

	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.store.MarkAsFailed(ctx, msg.ID); err != nil {
			log.WithFields(fields).WithError(err).Error("[OutboxSender] mark failed failed")
		} else {
			log.WithFields(fields).Error("[OutboxSender] message exceeded max retries, marked failed")
		}
	}
	return false
}
