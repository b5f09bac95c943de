package broker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"kyte-estimates/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *memoryWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

// scriptedReader hands out queued messages, then reports io.EOF
type scriptedReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	errs      []error
	committed []int64
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.queue) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func TestPublishConversionRequested(t *testing.T) {
	writer := &memoryWriter{}
	publisher := NewEventPublisher(NewProducerWithWriter(writer, "order-conversions"), nil)

	eventID, err := publisher.PublishConversionRequested(context.Background(), "realm-1", models.Order{OrderNumber: "1001"})
	require.NoError(t, err)
	assert.NotEmpty(t, eventID)

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "realm-1:1001", string(msg.Key))

	var event models.ConversionRequestedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, eventID, event.EventID)
	assert.Equal(t, models.EventTypeConversionRequested, event.EventType)
	assert.Equal(t, "realm-1", event.CompanyID)
	assert.Equal(t, "1001", event.Order.OrderNumber)
}

func TestPublishConversionCompletedUsesOrderKey(t *testing.T) {
	writer := &memoryWriter{}
	publisher := NewEventPublisher(nil, NewProducerWithWriter(writer, "conversion-events"))

	err := publisher.PublishConversionCompleted(context.Background(), &models.ConversionCompletedEvent{
		BaseEvent:   models.BaseEvent{EventID: "e1", EventType: models.EventTypeConversionSucceeded},
		CompanyID:   "realm-1",
		OrderNumber: "1001",
		State:       models.OrderStateSuccess,
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 1)
	assert.Equal(t, "realm-1:1001", string(writer.messages[0].Key))
}

func TestPublishEventWrapsWriterError(t *testing.T) {
	producer := NewProducerWithWriter(&memoryWriter{err: errors.New("broker unreachable")}, "t")

	err := producer.PublishEvent(context.Background(), "k", map[string]string{"a": "b"})
	assert.ErrorContains(t, err, "broker unreachable")
}

func requestedMessage(t *testing.T, offset int64, orderNumber string) kafka.Message {
	t.Helper()
	value, err := json.Marshal(models.ConversionRequestedEvent{
		BaseEvent: models.BaseEvent{EventID: orderNumber, EventType: models.EventTypeConversionRequested, Timestamp: time.Now()},
		CompanyID: "realm-1",
		Order:     models.Order{OrderNumber: orderNumber},
	})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: value}
}

func TestConsumerSkipsFailedMessages(t *testing.T) {
	reader := &scriptedReader{queue: []kafka.Message{
		requestedMessage(t, 1, "1001"),
		requestedMessage(t, 2, "1002"),
		requestedMessage(t, 3, "1003"),
	}}
	consumer := NewConsumerWithReader(reader, "order-conversions")

	var seen []string
	handler := NewEventHandler()
	handler.OnConversionRequested(func(_ context.Context, e *models.ConversionRequestedEvent) error {
		seen = append(seen, e.Order.OrderNumber)
		if e.Order.OrderNumber == "1002" {
			return errors.New("transient")
		}
		return nil
	})

	err := consumer.StartConsuming(context.Background(), handler.HandleMessage)

	require.NoError(t, err)
	assert.Equal(t, []string{"1001", "1002", "1003"}, seen, "a failed message is handled once and not retried")
	assert.Equal(t, []int64{1, 3}, reader.committed, "only handled messages are committed")
}

func TestHandleMessageDropsUndecodable(t *testing.T) {
	called := false
	handler := NewEventHandler()
	handler.OnConversionRequested(func(context.Context, *models.ConversionRequestedEvent) error {
		called = true
		return nil
	})

	assert.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}))
	assert.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"SOMETHING_ELSE"}`)}))
	assert.False(t, called)
}

func TestConsumerStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	consumer := NewConsumerWithReader(&scriptedReader{}, "t")

	err := consumer.StartConsuming(ctx, func(context.Context, kafka.Message) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
