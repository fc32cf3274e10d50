package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/watchtower/pkg/eventstream"
	"github.com/randalmurphal/watchtower/pkg/eventstream/event"
	"github.com/randalmurphal/watchtower/pkg/eventstream/natsbridge"
	"github.com/randalmurphal/watchtower/pkg/eventstream/observability"
)

var (
	consumeTypes     []string
	consumeGroup     string
	claimEvery       time.Duration
	consumeTelemetry bool
)

var consumeCmd = &cobra.Command{
	Use:     "consume",
	Short:   "Consume event streams, logging each event and forwarding to NATS when configured",
	GroupID: "run",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		requested := settings.EventTypes
		if cmd.Flags().Changed("types") {
			requested = consumeTypes
		}
		types, err := parseTypes(requested)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		telemetry := settings.OTelEnabled
		if cmd.Flags().Changed("otel") {
			telemetry = consumeTelemetry
		}
		if telemetry {
			shutdown, err := setupTelemetry(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(flushCtx); err != nil {
					logger.Warn("telemetry flush failed", "error", err)
				}
			}()
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		dead, err := openDeadLetters(false)
		if err != nil {
			return err
		}
		defer dead.Close()

		extra := []eventstream.Option{eventstream.WithDeadLetters(dead)}
		if telemetry {
			extra = append(extra,
				eventstream.WithMetrics(observability.NewMetricsRecorder()),
				eventstream.WithTracing(observability.NewSpanManager()),
			)
		}
		consumer := eventstream.NewConsumer(store, runtimeOptions(extra...)...)

		group := settings.ConsumerGroup
		if consumeGroup != "" {
			group = consumeGroup
		}
		g := consumer.Group(group)

		handlers := []eventstream.Handler{logHandler()}
		if settings.NATSURL != "" {
			fwd, err := natsbridge.Connect(settings.NATSURL, []natsbridge.Option{
				natsbridge.WithSubjectPrefix(settings.NATSSubjectPrefix),
				natsbridge.WithLogger(logger),
			})
			if err != nil {
				return err
			}
			defer fwd.Close()
			handlers = append(handlers, fwd)
		}
		for _, t := range types {
			for _, h := range handlers {
				g.RegisterHandler(t, h)
			}
		}

		if claimEvery > 0 {
			go claimLoop(ctx, g, types, claimEvery)
		}

		go func() {
			<-ctx.Done()
			consumer.StopAll()
		}()

		logger.Info("consumer starting",
			"consumer", consumer.Name(),
			"group", group,
			"types", len(types),
		)
		if err := consumer.StartAll(ctx); err != nil {
			return fmt.Errorf("consume: %w", err)
		}
		return nil
	},
}

func init() {
	consumeCmd.Flags().StringSliceVar(&consumeTypes, "types", nil, "event types to consume (default: event_types setting, else all)")
	consumeCmd.Flags().StringVar(&consumeGroup, "group", "", "consumer group (default: consumer_group setting)")
	consumeCmd.Flags().DurationVar(&claimEvery, "claim-every", time.Minute, "how often to claim stale pending entries (0 disables)")
	consumeCmd.Flags().BoolVar(&consumeTelemetry, "otel", false, "export OpenTelemetry metrics and spans to stderr (default: otel_enabled setting)")
}

// logHandler logs every delivered event.
func logHandler() eventstream.Handler {
	return eventstream.Named("log", eventstream.HandlerFunc(func(ctx context.Context, evt event.Event) error {
		meta := evt.Meta()
		logger.InfoContext(ctx, "event received",
			"event_type", string(evt.Type()),
			"event_id", meta.ID,
			"correlation_id", meta.CorrelationID,
		)
		return nil
	}))
}

// claimLoop periodically takes over entries other consumers left pending
// for longer than the claim_min_idle setting.
func claimLoop(ctx context.Context, g *eventstream.ConsumerGroup, types []event.Type, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, t := range types {
			if _, err := g.ClaimPending(ctx, t, settings.ClaimMinIdle); err != nil && ctx.Err() == nil {
				logger.Warn("claim failed", "event_type", string(t), "error", err)
			}
		}
	}
}
