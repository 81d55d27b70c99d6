package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/infra/config"
)

const (
	schemaVersion      = "1.0"
	auditTopic         = "auth.audit"
	defaultAuditBuffer = 1024
)

var _ port.AuditSink = (*AuditPublisher)(nil)

// AuditPublisher ships audit events to Kafka. Emit enqueues into a bounded buffer and drops the
// event when the buffer is full; a single goroutine forwards the buffer to the producer.
type AuditPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings

	mu      sync.RWMutex
	closed  bool
	events  chan envelope
	wg      sync.WaitGroup
	dropped atomic.Int64
}

type envelope struct {
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	UserID     string            `json:"user_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version"`
	Attributes map[string]any    `json:"attributes,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewAuditPublisher starts the forwarding goroutine. Call Close to flush and stop it.
func NewAuditPublisher(producer *Producer, appCfg config.AppSettings, buffer int, logger *zap.Logger) *AuditPublisher {
	if buffer <= 0 {
		buffer = defaultAuditBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &AuditPublisher{
		producer: producer,
		logger:   logger,
		appCfg:   appCfg,
		events:   make(chan envelope, buffer),
	}
	p.wg.Add(1)
	go p.forward()
	return p
}

// Emit never blocks. Events emitted after Close are discarded.
func (p *AuditPublisher) Emit(ctx context.Context, event domain.AuditEvent) {
	env := p.envelope(ctx, event)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.events <- env:
	default:
		dropped := p.dropped.Add(1)
		p.logger.Warn("audit buffer full, dropping event",
			zap.String("event_type", env.EventType),
			zap.String("event_id", env.EventID),
			zap.Int64("dropped_total", dropped),
		)
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (p *AuditPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close drains buffered events into the producer and closes it.
func (p *AuditPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	p.wg.Wait()
	return p.producer.Close()
}

func (p *AuditPublisher) forward() {
	defer p.wg.Done()

	topic := p.producer.TopicName(auditTopic)
	for env := range p.events {
		payload, err := json.Marshal(env)
		if err != nil {
			p.logger.Error("marshal audit envelope", zap.String("event_type", env.EventType), zap.Error(err))
			continue
		}

		p.producer.Input() <- &sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(env.UserID),
			Value: sarama.ByteEncoder(payload),
			Headers: []sarama.RecordHeader{
				{Key: []byte("event_type"), Value: []byte(env.EventType)},
			},
		}
	}
}

func (p *AuditPublisher) envelope(ctx context.Context, event domain.AuditEvent) envelope {
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}

	id := event.EventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := map[string]string{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	return envelope{
		EventID:    id,
		EventType:  event.Type,
		UserID:     event.UserID,
		SessionID:  event.SessionID,
		IP:         event.IP,
		Timestamp:  ts.UTC(),
		Version:    schemaVersion,
		Attributes: event.Metadata,
		Metadata:   metadata,
	}
}
