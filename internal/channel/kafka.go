package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka delivers tick records from a Kafka topic with the same lifecycle contract as Stomp.
// A session opens once a broker answers; Subscribe then starts a consumer-group reader
// on the topic for the remainder of that session.
type Kafka struct {
	brokers []string
	groupID string
	logger  *slog.Logger

	reconnectDelay time.Duration
	dialTimeout    time.Duration

	mu     sync.Mutex
	topics chan string // nil outside a session

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewKafka creates a Kafka channel for the given brokers and consumer group.
func NewKafka(brokers []string, groupID string, logger *slog.Logger) *Kafka {
	return &Kafka{
		brokers:        brokers,
		groupID:        groupID,
		logger:         logger.With("component", "kafka_channel", "consumer_group", groupID),
		reconnectDelay: ReconnectDelay,
		dialTimeout:    5 * time.Second,
		done:           make(chan struct{}),
	}
}

// Connect starts the connect/reconnect loop.
func (k *Kafka) Connect(ctx context.Context) <-chan Event {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event, eventBuffer)

	k.mu.Lock()
	k.cancel = cancel
	k.mu.Unlock()

	go k.run(ctx, events)
	return events
}

func (k *Kafka) run(ctx context.Context, events chan<- Event) {
	defer close(k.done)
	defer close(events)

	k.logger.Info("kafka_channel_starting", "brokers", k.brokers)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, k.reconnectDelay) {
				return
			}
			if !emit(ctx, events, Event{Kind: Retrying}) {
				return
			}
		}

		err := k.session(ctx, events, k.brokers[attempt%len(k.brokers)])
		if ctx.Err() != nil {
			k.logger.Info("kafka_channel_stopping")
			return
		}

		k.logger.Warn("kafka_session_ended",
			"error", err,
			"attempt", attempt,
			"retry_in_ms", k.reconnectDelay.Milliseconds(),
		)
		if !emit(ctx, events, Event{Kind: Closed, Err: err}) {
			return
		}
	}
}

func (k *Kafka) session(ctx context.Context, events chan<- Event, broker string) error {
	dialCtx, cancel := context.WithTimeout(ctx, k.dialTimeout)
	conn, err := kafka.DialContext(dialCtx, "tcp", broker)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", broker, err)
	}
	conn.Close()

	topics := make(chan string, 1)
	k.mu.Lock()
	k.topics = topics
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		k.topics = nil
		k.mu.Unlock()
	}()

	k.logger.Info("kafka_connected", "broker", broker)
	if !emit(ctx, events, Event{Kind: Opened}) {
		return ctx.Err()
	}

	var topic string
	select {
	case topic = <-topics:
	case <-ctx.Done():
		return ctx.Err()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		GroupID:  k.groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  HeartbeatInterval,
	})
	defer reader.Close()

	k.logger.Info("kafka_subscribed", "topic", topic)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			readErr := fmt.Errorf("read %s: %w", topic, err)
			emit(ctx, events, Event{Kind: Failed, Err: readErr})
			return readErr
		}

		k.logger.Debug("kafka_record_received",
			"topic", topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		if !emit(ctx, events, Event{Kind: Message, Body: string(msg.Value)}) {
			return ctx.Err()
		}
	}
}

// Subscribe starts consuming topic in the open session.
func (k *Kafka) Subscribe(topic string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.topics == nil {
		return ErrNotConnected
	}
	select {
	case k.topics <- topic:
		return nil
	default:
		return errors.New("channel: session already subscribed")
	}
}

// Close stops the reader and the reconnect loop.
func (k *Kafka) Close() error {
	k.closeOnce.Do(func() {
		k.mu.Lock()
		cancel := k.cancel
		k.mu.Unlock()

		if cancel != nil {
			cancel()
			<-k.done
		}
		k.logger.Info("kafka_channel_closed")
	})
	return nil
}
