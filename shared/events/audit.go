package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAuditBuffer  = 256
	auditPublishTimeout = 2 * time.Second
)

// AuditLog ships best-effort audit records to the audit stream from a single
// background worker. Records are dropped when the buffer is full or the
// publisher fails; callers are never blocked or told.
type AuditLog struct {
	service   string
	publisher Publisher
	logger    *zap.Logger

	queue chan AuditMessage
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAuditLog starts the worker. A nil publisher writes records to the logger only.
func NewAuditLog(service string, publisher Publisher, logger *zap.Logger, buffer int) *AuditLog {
	if buffer <= 0 {
		buffer = defaultAuditBuffer
	}
	a := &AuditLog{
		service:   service,
		publisher: publisher,
		logger:    logger.Named("audit"),
		queue:     make(chan AuditMessage, buffer),
		done:      make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AuditLog) Request(message string)  { a.record(AuditRequest, message) }
func (a *AuditLog) Response(message string) { a.record(AuditResponse, message) }
func (a *AuditLog) Info(message string)     { a.record(AuditInfo, message) }

func (a *AuditLog) record(messageType, message string) {
	if a == nil {
		return
	}
	msg := AuditMessage{
		MessageType: messageType,
		DateTime:    time.Now().UTC(),
		Message:     message,
		Service:     a.service,
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- msg:
	default:
		a.logger.Warn("audit buffer full, dropping record", zap.String("message_type", messageType))
	}
}

func (a *AuditLog) run() {
	defer close(a.done)
	for msg := range a.queue {
		a.ship(msg)
	}
}

func (a *AuditLog) ship(msg AuditMessage) {
	if a.publisher == nil {
		a.logger.Info(msg.Message, zap.String("message_type", msg.MessageType))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditPublishTimeout)
	defer cancel()
	if err := a.publisher.Publish(ctx, AuditStream, AuditRecorded, msg); err != nil {
		a.logger.Warn("failed to publish audit record", zap.String("message_type", msg.MessageType), zap.Error(err))
	}
}

// Close stops accepting records and waits for queued ones to be shipped.
func (a *AuditLog) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
}
