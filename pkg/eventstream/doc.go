/*
Package eventstream publishes fleet events to per-type append-only streams
and consumes them through consumer groups with at-least-once delivery.

# Overview

Every event type has its own stream, named "{prefix}:{event_type}". A
Publisher encodes events into flat string records and appends them with
approximate trimming. A ConsumerGroup reads one or more streams under a
group name and a unique consumer identity, decodes each record, calls the
handlers registered for its type, and acknowledges the message once every
handler has returned. A Consumer owns the groups of one process identity
and runs them concurrently.

# Basic Usage

	store, err := stream.DialRedis(ctx, stream.RedisConfig{URL: "redis://localhost:6379/0"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	pub := eventstream.NewPublisher(store)
	id, err := pub.Publish(ctx, event.New(&event.PositionUpdated{
	    TruckID: "T-1", TruckNumber: "TRUCK-001", Lat: 6.5244, Lng: 3.3792,
	}))

	consumer := eventstream.NewConsumer(store, eventstream.WithLogger(logger))
	consumer.Group("watch_tower_consumers").RegisterHandler(event.TypePositionUpdated,
	    eventstream.Typed(func(ctx context.Context, evt *event.PositionUpdated) error {
	        return positions.Save(ctx, evt)
	    }))

	go func() {
	    <-ctx.Done()
	    consumer.StopAll()
	}()
	if err := consumer.StartAll(ctx); err != nil {
	    log.Fatal(err)
	}

# Delivery Guarantees

Delivery is at-least-once. A message stays pending for its consumer until
acknowledged. Pending messages of a consumer that went away can be taken
over with ClaimPending; the claiming group redelivers them to its handlers
before reading new entries.

Handler failures never block acknowledgment: each failure is logged and the
remaining handlers still run. Records that cannot be decoded, and events
without a registered handler, are acknowledged too. When a dead-letter store
is configured (WithDeadLetters), all three cases are recorded there so they
can be inspected and replayed.

# Shutdown

Stop (or StopAll) asks a read loop to exit once its current batch is done;
cancelling the context passed to Consume or StartAll has the same effect.
Both are clean shutdowns and return a nil error.
*/
package eventstream
