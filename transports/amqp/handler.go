package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/interpose/contracts"
	"github.com/glimte/interpose/interceptors"
	"github.com/glimte/interpose/registry"
)

// Parameter names a delivery is exposed under
const (
	ParamBody          = "body"
	ParamRoutingKey    = "routingKey"
	ParamMessageID     = "messageId"
	ParamCorrelationID = "correlationId"
	ParamContentType   = "contentType"
	ParamHeaders       = "headers"
)

// DeliveryHandler runs each delivery through a registry under a fixed owner
// and operation, then settles it: success and short-circuits ack, other
// errors nack.
type DeliveryHandler struct {
	registry  *registry.Registry
	owner     contracts.Owner
	operation string
	impl      interceptors.Implementation

	requeue  bool
	jsonBody bool
	logger   *slog.Logger
}

// HandlerOption configures a DeliveryHandler
type HandlerOption func(*DeliveryHandler)

// WithRequeue makes failed deliveries go back to the queue instead of being
// dropped or dead-lettered
func WithRequeue(requeue bool) HandlerOption {
	return func(h *DeliveryHandler) {
		h.requeue = requeue
	}
}

// WithJSONBody decodes JSON object bodies and exposes their fields as params
// after the delivery fields
func WithJSONBody() HandlerOption {
	return func(h *DeliveryHandler) {
		h.jsonBody = true
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *DeliveryHandler) {
		h.logger = logger
	}
}

// NewDeliveryHandler creates a handler running impl as owner.operation
func NewDeliveryHandler(reg *registry.Registry, owner contracts.Owner, operation string, impl interceptors.Implementation, opts ...HandlerOption) *DeliveryHandler {
	h := &DeliveryHandler{
		registry:  reg,
		owner:     owner,
		operation: operation,
		impl:      impl,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Params builds the parameters a delivery runs with
func (h *DeliveryHandler) Params(d amqp.Delivery) (*contracts.Params, error) {
	headers := make(map[string]any, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = v
	}

	params := contracts.NewParams(
		ParamBody, d.Body,
		ParamRoutingKey, d.RoutingKey,
		ParamMessageID, d.MessageId,
		ParamCorrelationID, d.CorrelationId,
		ParamContentType, d.ContentType,
		ParamHeaders, headers,
	)

	if !h.jsonBody || len(d.Body) == 0 {
		return params, nil
	}

	fields := contracts.NewParams()
	if err := json.Unmarshal(d.Body, fields); err != nil {
		return nil, fmt.Errorf("failed to decode body of message %s: %w", d.MessageId, err)
	}
	for _, key := range fields.Keys() {
		if params.Has(key) {
			continue
		}
		value, _ := fields.Get(key)
		params.Set(key, value)
	}

	return params, nil
}

// Handle runs and settles one delivery. It returns the run error, or the
// settle error if acking failed. Every error it returns has been logged.
func (h *DeliveryHandler) Handle(ctx context.Context, d amqp.Delivery) error {
	params, err := h.Params(d)
	if err != nil {
		h.logger.Error("delivery dropped",
			"messageId", d.MessageId,
			"routingKey", d.RoutingKey,
			"error", err,
		)
		// A body that never decodes will not decode on redelivery either
		return h.settle(d, err, func() error { return d.Nack(false, false) }, "nack")
	}

	_, runErr := h.registry.Run(ctx, h.owner, h.operation, params, h.impl)

	switch {
	case runErr == nil:
		return h.settle(d, nil, func() error { return d.Ack(false) }, "ack")

	case interceptors.IsShortCircuit(runErr):
		h.logger.Debug("delivery short-circuited",
			"messageId", d.MessageId,
			"routingKey", d.RoutingKey,
			"reason", runErr.Error(),
		)
		return h.settle(d, nil, func() error { return d.Ack(false) }, "ack")

	default:
		h.logger.Error("delivery failed",
			"messageId", d.MessageId,
			"routingKey", d.RoutingKey,
			"requeue", h.requeue,
			"error", runErr,
		)
		return h.settle(d, runErr, func() error { return d.Nack(false, h.requeue) }, "nack")
	}
}

// settle acks or nacks d and returns cause, or the settle error when that fails
func (h *DeliveryHandler) settle(d amqp.Delivery, cause error, do func() error, action string) error {
	if err := do(); err != nil {
		h.logger.Error("failed to settle delivery",
			"messageId", d.MessageId,
			"action", action,
			"error", err,
		)
		return fmt.Errorf("failed to %s message %s: %w", action, d.MessageId, err)
	}
	return cause
}

// Consume handles deliveries until ctx is done or the channel closes. Errors
// are logged by Handle and do not stop the loop.
func (h *DeliveryHandler) Consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				h.logger.Debug("delivery channel closed")
				return nil
			}
			_ = h.Handle(ctx, d)
		}
	}
}
