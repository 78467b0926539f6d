package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reelhaven/reelhaven/internal/cli/output"
	"github.com/reelhaven/reelhaven/pkg/draft"
)

var (
	draftTitle       string
	draftDescription string
	draftTags        []string
	draftVisibility  string
	draftCategory    string
)

var draftCmd = &cobra.Command{
	Use:   "draft",
	Short: "Manage the metadata draft of an upload",
	Long: `Manage the metadata draft attached to an upload session.

A draft can be edited from the moment the session is created, long before
the video is playable.`,
}

var draftSetCmd = &cobra.Command{
	Use:   "set <upload-id>",
	Short: "Update the metadata draft",
	Long: `Update the metadata draft of an upload session. Only the provided
flags are written; the draft is replaced as a whole.

Examples:
  # Set title and visibility
  reelhavenctl draft set 4f7c2a... --title "My clip" --visibility unlisted

  # Set tags
  reelhavenctl draft set 4f7c2a... --title "My clip" --tag demo --tag travel`,
	Args: cobra.ExactArgs(1),
	RunE: runDraftSet,
}

var draftGetCmd = &cobra.Command{
	Use:   "get <upload-id>",
	Short: "Show the metadata draft",
	Args:  cobra.ExactArgs(1),
	RunE:  runDraftGet,
}

func init() {
	draftSetCmd.Flags().StringVar(&draftTitle, "title", "", "Video title")
	draftSetCmd.Flags().StringVar(&draftDescription, "description", "", "Video description")
	draftSetCmd.Flags().StringArrayVar(&draftTags, "tag", nil, "Tag (repeatable)")
	draftSetCmd.Flags().StringVar(&draftVisibility, "visibility", "", "Visibility (public|unlisted|private)")
	draftSetCmd.Flags().StringVar(&draftCategory, "category", "", "Category")

	draftCmd.AddCommand(draftSetCmd)
	draftCmd.AddCommand(draftGetCmd)
}

func runDraftSet(cmd *cobra.Command, args []string) error {
	m := draft.Metadata{
		Title:       draftTitle,
		Description: draftDescription,
		Tags:        draftTags,
		Visibility:  draftVisibility,
		Category:    draftCategory,
	}
	if err := m.Validate(); err != nil {
		return err
	}

	client := newClient()
	if err := client.SaveDraft(cmd.Context(), args[0], m); err != nil {
		return err
	}

	fmt.Println("Draft updated")
	return nil
}

func runDraftGet(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(outputFmt)
	if err != nil {
		return err
	}

	client := newClient()
	m, err := client.GetDraft(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, m)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, m)
	}

	pairs := [][2]string{
		{"Title", m.Title},
		{"Description", m.Description},
		{"Visibility", m.Visibility},
		{"Category", m.Category},
	}
	if len(m.Tags) > 0 {
		tags := ""
		for i, t := range m.Tags {
			if i > 0 {
				tags += ", "
			}
			tags += t
		}
		pairs = append(pairs, [2]string{"Tags", tags})
	}
	return output.SimpleTable(os.Stdout, pairs)
}
