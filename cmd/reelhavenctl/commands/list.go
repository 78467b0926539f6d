package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reelhaven/reelhaven/internal/bytesize"
	"github.com/reelhaven/reelhaven/internal/cli/output"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List upload sessions",
	Long: `List the caller's upload sessions, newest first.

Examples:
  # List uploads
  reelhavenctl list

  # List the 10 most recent uploads as JSON
  reelhavenctl list --limit 10 --output json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of sessions to return (default: server decides)")
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(outputFmt)
	if err != nil {
		return err
	}

	client := newClient()
	uploads, err := client.List(cmd.Context(), listLimit)
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, uploads)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, uploads)
	}

	if len(uploads) == 0 {
		fmt.Println("No uploads found")
		return nil
	}

	table := output.NewTableData("UPLOAD ID", "STATUS", "RECEIVED", "TOTAL", "PROGRESS")
	for _, u := range uploads {
		table.AddRow(
			u.UploadID,
			u.Status,
			bytesize.ByteSize(u.BytesReceived).String(),
			bytesize.ByteSize(u.TotalBytes).String(),
			fmt.Sprintf("%.1f%%", u.Progress*100),
		)
	}
	return output.PrintTable(os.Stdout, table)
}
