package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/watchtower/pkg/eventstream"
	"github.com/randalmurphal/watchtower/pkg/eventstream/stream"
)

var infoCmd = &cobra.Command{
	Use:     "info [event-type...]",
	Short:   "Show stream length, groups and first/last entries",
	GroupID: "inspect",
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := parseTypes(args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		pub := eventstream.NewPublisher(store, runtimeOptions()...)
		infos := make([]eventstream.StreamInfo, 0, len(types))
		for _, t := range types {
			infos = append(infos, pub.StreamInfo(ctx, t))
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), infos)
		}
		printStreamInfos(cmd.OutOrStdout(), infos)
		return nil
	},
}

var pendingGroup string

var pendingCmd = &cobra.Command{
	Use:     "pending <event-type>",
	Short:   "List delivered but unacknowledged entries of a stream",
	GroupID: "inspect",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := parseType(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		g := eventstream.NewConsumerGroup(store, groupOrDefault(pendingGroup), runtimeOptions()...)
		entries, err := g.Pending(ctx, t)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		printPending(cmd.OutOrStdout(), entries)
		return nil
	},
}

var (
	createGroupName  string
	createGroupStart string
)

var createGroupCmd = &cobra.Command{
	Use:     "create-group <event-type...>",
	Short:   "Create a consumer group on event streams (existing groups are left as is)",
	GroupID: "recover",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		types, err := parseTypes(args)
		if err != nil {
			return err
		}
		if createGroupStart != stream.StartBeginning && createGroupStart != stream.StartNew {
			return fmt.Errorf("--start must be %q or %q", stream.StartBeginning, stream.StartNew)
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		pub := eventstream.NewPublisher(store, runtimeOptions()...)
		group := groupOrDefault(createGroupName)
		for _, t := range types {
			if err := pub.CreateConsumerGroup(ctx, t, group, createGroupStart); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Group %s ready on %s\n", group, pub.StreamName(t))
		}
		return nil
	},
}

var (
	claimGroup    string
	claimConsumer string
	claimMinIdle  time.Duration
)

var claimCmd = &cobra.Command{
	Use:     "claim <event-type>",
	Short:   "Hand stale pending entries of a stream to another consumer",
	GroupID: "recover",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := parseType(args[0])
		if err != nil {
			return err
		}

		minIdle := settings.ClaimMinIdle
		if cmd.Flags().Changed("min-idle") {
			minIdle = claimMinIdle
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		g := eventstream.NewConsumerGroup(store, groupOrDefault(claimGroup),
			runtimeOptions(eventstream.WithConsumerName(claimConsumer))...)
		n, err := g.ClaimPending(ctx, t, minIdle)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"claimed": n, "consumer": g.Consumer()})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Claimed %d entries for %s\n", n, g.Consumer())
		return nil
	},
}

func init() {
	pendingCmd.Flags().StringVar(&pendingGroup, "group", "", "consumer group (default: consumer_group setting)")

	createGroupCmd.Flags().StringVar(&createGroupName, "group", "", "consumer group (default: consumer_group setting)")
	createGroupCmd.Flags().StringVar(&createGroupStart, "start", stream.StartNew, `start position: "0" (beginning) or "$" (new entries only)`)

	claimCmd.Flags().StringVar(&claimGroup, "group", "", "consumer group (default: consumer_group setting)")
	claimCmd.Flags().StringVar(&claimConsumer, "consumer", "", "consumer that takes over the entries")
	claimCmd.Flags().DurationVar(&claimMinIdle, "min-idle", 0, "minimum idle time, e.g. 90s (default: claim_min_idle setting)")
	_ = claimCmd.MarkFlagRequired("consumer")
}

func groupOrDefault(name string) string {
	if name != "" {
		return name
	}
	return settings.ConsumerGroup
}
