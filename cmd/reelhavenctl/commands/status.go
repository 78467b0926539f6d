package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reelhaven/reelhaven/internal/bytesize"
	"github.com/reelhaven/reelhaven/internal/cli/output"
	"github.com/reelhaven/reelhaven/internal/cli/timeutil"
	"github.com/reelhaven/reelhaven/pkg/apiclient"
)

var statusCmd = &cobra.Command{
	Use:   "status <upload-id>",
	Short: "Show upload status",
	Long: `Display the status of one upload session: received bytes, lifecycle
state, processing progress and the playback URL once the video is playable.

Examples:
  # Show status
  reelhavenctl status 4f7c2a...

  # Output as JSON
  reelhavenctl status 4f7c2a... --output json`,
	Args: cobra.ExactArgs(1),
	RunE: runUploadStatus,
}

func runUploadStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(outputFmt)
	if err != nil {
		return err
	}

	client := newClient()
	status, err := client.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, status)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, status)
	default:
		printUploadStatus(status)
	}
	return nil
}

func printUploadStatus(status *apiclient.UploadStatus) {
	pairs := [][2]string{
		{"Upload ID", status.UploadID},
		{"Status", status.Status},
		{"Received", fmt.Sprintf("%s / %s (%.1f%%)",
			bytesize.ByteSize(status.BytesReceived),
			bytesize.ByteSize(status.TotalBytes),
			status.Progress*100)},
	}
	if status.CID != "" {
		pairs = append(pairs, [2]string{"Content ID", status.CID})
	}
	if status.PlaybackURL != "" {
		pairs = append(pairs, [2]string{"Playback URL", status.PlaybackURL})
	}
	if status.FirstPlayableReadyAt != nil {
		pairs = append(pairs, [2]string{"Playable since", timeutil.FormatTime(*status.FirstPlayableReadyAt)})
	}
	if status.HDReadyAt != nil {
		pairs = append(pairs, [2]string{"HD ready since", timeutil.FormatTime(*status.HDReadyAt)})
	}
	if status.ErrorCode != "" {
		pairs = append(pairs, [2]string{"Error", status.ErrorCode})
	}
	if status.Warning != "" {
		pairs = append(pairs, [2]string{"Warning", status.Warning})
	}
	_ = output.SimpleTable(os.Stdout, pairs)

	if len(status.Renditions) > 0 {
		fmt.Println()
		table := output.NewTableData("RENDITION", "RESOLUTION", "STATUS", "SEGMENTS")
		for _, r := range status.Renditions {
			segments := ""
			if r.SegmentCount > 0 {
				segments = fmt.Sprintf("%d", r.SegmentCount)
			}
			table.AddRow(r.Name, fmt.Sprintf("%dx%d", r.Width, r.Height), strings.ToLower(r.Status), segments)
		}
		_ = output.PrintTable(os.Stdout, table)
	}
}
