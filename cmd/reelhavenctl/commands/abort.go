package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reelhaven/reelhaven/internal/cli/prompt"
)

var abortYes bool

var abortCmd = &cobra.Command{
	Use:   "abort <upload-id>",
	Short: "Abort an upload session",
	Long: `Abort an upload session. Staged bytes are discarded and the session
stops accepting data. Aborting an already aborted session is a no-op.

Examples:
  # Abort with confirmation
  reelhavenctl abort 4f7c2a...

  # Abort without confirmation
  reelhavenctl abort 4f7c2a... --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runAbort,
}

func init() {
	abortCmd.Flags().BoolVarP(&abortYes, "yes", "y", false, "Skip confirmation prompt")
}

func runAbort(cmd *cobra.Command, args []string) error {
	uploadID := args[0]

	if !abortYes {
		ok, err := prompt.Confirm(fmt.Sprintf("Abort upload %s? Staged bytes will be discarded", uploadID), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted nothing")
			return nil
		}
	}

	client := newClient()
	if err := client.Abort(cmd.Context(), uploadID); err != nil {
		return err
	}

	fmt.Printf("Upload %s aborted\n", uploadID)
	return nil
}
