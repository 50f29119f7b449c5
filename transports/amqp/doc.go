// Package amqp runs RabbitMQ deliveries through interceptor chains.
//
// The package does not manage connections. Open a channel, start consuming,
// and hand the delivery channel to DeliveryHandler.Consume:
//
//	deliveries, err := ch.Consume("orders", "", false, false, false, false, nil)
//	if err != nil {
//		return err
//	}
//	handler := amqp.NewDeliveryHandler(reg, contracts.TypeRef("Order"), "process", processOrder)
//	return handler.Consume(ctx, deliveries)
//
// Deliveries must be consumed without auto-ack; the handler settles each one.
package amqp
