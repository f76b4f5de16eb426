package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/onnwee/commentcast/board"
	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/render"
)

var (
	fetchAfter int
	fetchList  bool
	fetchJSON  bool
)

func initFetchCommand() *cobra.Command {
	fetchCommand := &cobra.Command{
		Use:   "fetch <thread_URL>",
		Short: "Reads a thread once and prints its responses",
		Args:  cobra.ExactArgs(1),
		Example: "  # Prints responses after number 100\n" +
			"  " + os.Args[0] + " fetch --after 100 https://example.5ch.net/test/read.cgi/livejupiter/1700000000/\n" +
			"  # Lists the threads on the same board\n" +
			"  " + os.Args[0] + " fetch --list https://example.5ch.net/test/read.cgi/livejupiter/1700000000/",
		RunE: runFetchCommand,
	}
	fetchCommand.Flags().IntVar(&fetchAfter, "after", 0, "Only print responses numbered above this")
	fetchCommand.Flags().BoolVar(&fetchList, "list", false, "List the board's threads instead")
	fetchCommand.Flags().BoolVar(&fetchJSON, "json", false, "Print JSON")
	return fetchCommand
}

func runFetchCommand(cmd *cobra.Command, args []string) error {
	client := board.NewClient()
	out := cmd.OutOrStdout()

	if fetchList {
		threads, err := client.FetchThreadList(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if fetchJSON {
			return writeIndentedJSON(cmd, threads)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, t := range threads {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", t.ResponseCount, t.Title, t.URL)
		}
		return tw.Flush()
	}

	rows, err := client.FetchResponses(cmd.Context(), args[0], fetchAfter)
	if err != nil {
		return err
	}
	if fetchJSON {
		return writeIndentedJSON(cmd, rows)
	}
	for _, r := range rows {
		fmt.Fprintln(out, formatResponse(r))
	}
	return nil
}

func formatResponse(r comment.Comment) string {
	head := r.Number + " " + r.Name
	if r.Date != "" {
		head += " " + r.Date
	}
	if r.ID != "" {
		head += " ID:" + r.ID
	}
	return head + "\n  " + render.SpeechText(r, render.SpeechOptions{ReplaceNewline: true})
}

func writeIndentedJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
