package amqp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/interpose/contracts"
	"github.com/glimte/interpose/interceptors"
	"github.com/glimte/interpose/registry"
)

// fakeAcknowledger records how deliveries were settled
type fakeAcknowledger struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue []bool
	ackErr  error
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ackErr != nil {
		return a.ackErr
	}
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked), len(a.nacked)
}

func delivery(ack *fakeAcknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger:  ack,
		DeliveryTag:   tag,
		Body:          []byte(body),
		RoutingKey:    "orders.created",
		MessageId:     "m-1",
		CorrelationId: "c-1",
		ContentType:   "application/json",
		Headers:       amqp.Table{"tenant": "acme"},
	}
}

var order = contracts.TypeRef("Order")

func TestDeliveryHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("exposes the delivery as params and acks", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		var seen *contracts.Params
		handler := NewDeliveryHandler(registry.New(), order, "process", func(ctx context.Context, params *contracts.Params) (any, error) {
			seen = params
			return nil, nil
		})

		require.NoError(t, handler.Handle(ctx, delivery(ack, 1, `{"id":7}`)))

		assert.Equal(t, []uint64{1}, ack.acked)
		assert.Equal(t, []string{"body", "routingKey", "messageId", "correlationId", "contentType", "headers"}, seen.Keys())
		routingKey, _ := seen.GetString(ParamRoutingKey)
		assert.Equal(t, "orders.created", routingKey)
		headers, _ := seen.Get(ParamHeaders)
		assert.Equal(t, map[string]any{"tenant": "acme"}, headers)
	})

	t.Run("JSON bodies add their fields", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		var seen *contracts.Params
		handler := NewDeliveryHandler(registry.New(), order, "process", func(ctx context.Context, params *contracts.Params) (any, error) {
			seen = params
			return nil, nil
		}, WithJSONBody())

		require.NoError(t, handler.Handle(ctx, delivery(ack, 1, `{"id":7,"routingKey":"spoofed"}`)))

		id, ok := seen.Get("id")
		assert.True(t, ok)
		assert.Equal(t, float64(7), id)
		routingKey, _ := seen.GetString(ParamRoutingKey)
		assert.Equal(t, "orders.created", routingKey)
	})

	t.Run("undecodable JSON bodies are dropped", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		handler := NewDeliveryHandler(registry.New(), order, "process", func(ctx context.Context, params *contracts.Params) (any, error) {
			t.Fatal("implementation must not run")
			return nil, nil
		}, WithJSONBody(), WithRequeue(true))

		err := handler.Handle(ctx, delivery(ack, 3, `not json`))

		assert.Error(t, err)
		assert.Equal(t, []uint64{3}, ack.nacked)
		assert.Equal(t, []bool{false}, ack.requeue)
	})

	t.Run("failures nack with the configured requeue", func(t *testing.T) {
		failure := errors.New("warehouse down")
		impl := func(ctx context.Context, params *contracts.Params) (any, error) {
			return nil, failure
		}

		for _, requeue := range []bool{false, true} {
			ack := &fakeAcknowledger{}
			handler := NewDeliveryHandler(registry.New(), order, "process", impl, WithRequeue(requeue))

			err := handler.Handle(ctx, delivery(ack, 2, `{}`))

			assert.Same(t, failure, err)
			assert.Equal(t, []uint64{2}, ack.nacked)
			assert.Equal(t, []bool{requeue}, ack.requeue)
		}
	})

	t.Run("short-circuits ack", func(t *testing.T) {
		reg := registry.New()
		reg.MustRegister(order, "process", interceptors.NewFilteringInterceptor(
			interceptors.NewParamEqualsFilter(ParamRoutingKey, "orders.paid"),
			interceptors.SkipWithError,
		))
		ack := &fakeAcknowledger{}
		handler := NewDeliveryHandler(reg, order, "process", func(ctx context.Context, params *contracts.Params) (any, error) {
			t.Fatal("implementation must not run")
			return nil, nil
		})

		require.NoError(t, handler.Handle(ctx, delivery(ack, 4, `{}`)))

		assert.Equal(t, []uint64{4}, ack.acked)
		assert.Empty(t, ack.nacked)
	})

	t.Run("interceptors see the operation", func(t *testing.T) {
		reg := registry.New()
		var op interceptors.Operation
		reg.MustRegister(order, "process", interceptors.NewInterceptorFunc("capture", func(ctx context.Context, params *contracts.Params, next interceptors.Advance) (any, error) {
			op, _ = interceptors.OperationFromContext(ctx)
			return next(ctx, params)
		}))
		ack := &fakeAcknowledger{}
		handler := NewDeliveryHandler(reg, order, "process", func(ctx context.Context, params *contracts.Params) (any, error) {
			return nil, nil
		})

		require.NoError(t, handler.Handle(ctx, delivery(ack, 5, `{}`)))

		assert.Equal(t, "Order.process", op.String())
	})

	t.Run("ack failures are reported", func(t *testing.T) {
		ack := &fakeAcknowledger{ackErr: amqp.ErrClosed}
		handler := NewDeliveryHandler(registry.New(), order, "process", func(ctx context.Context, params *contracts.Params) (any, error) {
			return nil, nil
		})

		err := handler.Handle(ctx, delivery(ack, 6, `{}`))

		assert.ErrorIs(t, err, amqp.ErrClosed)
	})
}

func TestDeliveryHandlerConsume(t *testing.T) {
	t.Run("handles until the channel closes", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		deliveries := make(chan amqp.Delivery, 3)
		deliveries <- delivery(ack, 1, `{}`)
		deliveries <- delivery(ack, 2, `{}`)
		deliveries <- delivery(ack, 3, `{}`)
		close(deliveries)

		calls := 0
		handler := NewDeliveryHandler(registry.New(), order, "process", func(ctx context.Context, params *contracts.Params) (any, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("failed")
			}
			return nil, nil
		})

		require.NoError(t, handler.Consume(context.Background(), deliveries))

		acked, nacked := ack.counts()
		assert.Equal(t, 2, acked)
		assert.Equal(t, 1, nacked)
	})

	t.Run("logs deliveries it could not handle", func(t *testing.T) {
		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, nil))
		broken := &fakeAcknowledger{ackErr: amqp.ErrClosed}
		deliveries := make(chan amqp.Delivery, 2)
		deliveries <- delivery(&fakeAcknowledger{}, 1, `not json`)
		deliveries <- delivery(broken, 2, `{}`)
		close(deliveries)

		handler := NewDeliveryHandler(registry.New(), order, "process", func(ctx context.Context, params *contracts.Params) (any, error) {
			return nil, nil
		}, WithJSONBody(), WithLogger(logger))

		require.NoError(t, handler.Consume(context.Background(), deliveries))

		assert.Contains(t, logs.String(), "delivery dropped")
		assert.Contains(t, logs.String(), "failed to settle delivery")
		assert.Contains(t, logs.String(), "action=ack")
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		handler := NewDeliveryHandler(registry.New(), order, "process", func(ctx context.Context, params *contracts.Params) (any, error) {
			return nil, nil
		})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := handler.Consume(ctx, make(chan amqp.Delivery))

		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
