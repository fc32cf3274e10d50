package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/watchtower/pkg/eventstream"
	"github.com/randalmurphal/watchtower/pkg/eventstream/deadletter"
)

var deadLettersCmd = &cobra.Command{
	Use:     "dead-letters",
	Short:   "Inspect and replay dead-lettered messages",
	GroupID: "recover",
}

var (
	letterReason string
	letterLimit  int
)

var deadLettersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letters, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dead, err := openDeadLetters(true)
		if err != nil {
			return err
		}
		defer dead.Close()

		ctx := cmd.Context()
		var letters []*deadletter.Letter
		if letterReason != "" {
			letters, err = dead.ListByReason(ctx, deadletter.Reason(letterReason), letterLimit)
		} else {
			letters, err = dead.List(ctx, letterLimit)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), letters)
		}
		printLetters(cmd.OutOrStdout(), letters)
		return nil
	},
}

var replayKeep bool

var deadLettersReplayCmd = &cobra.Command{
	Use:   "replay <id...>",
	Short: "Append the raw records of dead letters back onto their streams",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dead, err := openDeadLetters(true)
		if err != nil {
			return err
		}
		defer dead.Close()

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		pub := eventstream.NewPublisher(store, runtimeOptions()...)
		for _, id := range args {
			l, err := dead.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("dead letter %s: %w", id, err)
			}
			entryID, err := pub.Replay(ctx, l)
			if err != nil {
				return err
			}
			if !replayKeep {
				if err := dead.Delete(ctx, id); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %s to %s as %s\n", id, l.Stream, entryID)
		}
		return nil
	},
}

func init() {
	deadLettersListCmd.Flags().StringVar(&letterReason, "reason", "", "filter by reason (decode_failed, unhandled, handler_failed)")
	deadLettersListCmd.Flags().IntVar(&letterLimit, "limit", 50, "maximum letters to show (0 for all)")

	deadLettersReplayCmd.Flags().BoolVar(&replayKeep, "keep", false, "keep letters after replaying them")

	deadLettersCmd.AddCommand(deadLettersListCmd)
	deadLettersCmd.AddCommand(deadLettersReplayCmd)
}
