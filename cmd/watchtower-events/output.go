package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/randalmurphal/watchtower/pkg/eventstream"
	"github.com/randalmurphal/watchtower/pkg/eventstream/deadletter"
	"github.com/randalmurphal/watchtower/pkg/eventstream/stream"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStreamInfos(w io.Writer, infos []eventstream.StreamInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tLENGTH\tGROUPS\tFIRST\tLAST\tERROR")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
			info.Stream, info.Length, info.Groups, entryID(info.FirstEntry), entryID(info.LastEntry), info.Error)
	}
	tw.Flush()
}

func entryID(m *stream.Message) string {
	if m == nil {
		return "-"
	}
	return m.ID
}

func printPending(w io.Writer, entries []stream.PendingEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No pending entries")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONSUMER\tIDLE\tDELIVERIES")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.ID, e.Consumer, e.Idle, e.DeliveryCount)
	}
	tw.Flush()
}

func printLetters(w io.Writer, letters []*deadletter.Letter) {
	if len(letters) == 0 {
		fmt.Fprintln(w, "No dead letters")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREASON\tSTREAM\tMESSAGE\tEVENT\tHANDLER\tERROR")
	for _, l := range letters {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID, l.Reason, l.Stream, l.MessageID, l.EventType, dash(l.Handler), firstLine(l.Error))
	}
	tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
