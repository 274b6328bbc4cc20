package client

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// NewCursorCommand constructs the `cursor` command group and subcommands.
func NewCursorCommand(baseURL BaseURLFunc) *cobra.Command {
	cursorCmd := &cobra.Command{Use: "cursor", Short: "Consumer cursor operations"}

	cursorCmd.AddCommand(
		newCursorCommitCommand(baseURL),
		newCursorGetCommand(baseURL),
		newCursorListCommand(baseURL),
	)

	return cursorCmd
}

// newCursorCommitCommand constructs the `cursor commit` subcommand.
func newCursorCommitCommand(baseURL BaseURLFunc) *cobra.Command {
	commitCmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit a consumer group's replay position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")
			group, _ := cmd.Flags().GetString("group")
			seq, _ := cmd.Flags().GetUint64("seq")

			body := map[string]any{
				"stream": st,
				"group":  group,
				"seq":    seq,
			}
			status, err := postStatus(baseURL(), "/v1/cursors/commit", body)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", status)
			return nil
		},
	}
	commitCmd.Flags().String("stream", "", "Stream")
	commitCmd.Flags().String("group", "", "Consumer group")
	commitCmd.Flags().Uint64("seq", 0, "Last processed sequence number")
	return commitCmd
}

// newCursorGetCommand constructs the `cursor get` subcommand.
func newCursorGetCommand(baseURL BaseURLFunc) *cobra.Command {
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Get a consumer group's committed position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")
			group, _ := cmd.Flags().GetString("group")

			q := url.Values{}
			q.Set("stream", st)
			q.Set("group", group)
			var out any
			if err := getJSON(baseURL(), "/v1/cursors/get?"+q.Encode(), &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	getCmd.Flags().String("stream", "", "Stream")
	getCmd.Flags().String("group", "", "Consumer group")
	return getCmd
}

// newCursorListCommand constructs the `cursor list` subcommand.
func newCursorListCommand(baseURL BaseURLFunc) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List committed cursors for a stream",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _ := cmd.Flags().GetString("stream")

			q := url.Values{}
			q.Set("stream", st)
			var out any
			if err := getJSON(baseURL(), "/v1/cursors/list?"+q.Encode(), &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	listCmd.Flags().String("stream", "", "Stream")
	return listCmd
}
