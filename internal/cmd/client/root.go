package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the Engram client.
// It registers the stream and cursor command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "engram",
		Short: "Engram client commands",
	}
	root.AddCommand(NewStreamCommand(baseURL))
	root.AddCommand(NewCursorCommand(baseURL))
	return root
}
