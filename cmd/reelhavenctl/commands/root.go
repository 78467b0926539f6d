// Package commands implements the CLI commands for the reelhavenctl client.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/reelhaven/reelhaven/pkg/apiclient"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	serverURL string
	authToken string
	ownerID   string
	outputFmt string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "reelhavenctl",
	Short: "ReelHaven Control - Upload client",
	Long: `reelhavenctl is the command-line client for a ReelHaven server.

Use this tool to upload video files over the resumable protocol, inspect
upload progress, edit metadata drafts and abort sessions.

An interrupted upload is resumed by re-running the same upload command with
the same --key: the client asks the server how many bytes already landed and
continues from there.

Use "reelhavenctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token (default: $REELHAVEN_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", "", "Owner ID for dev-mode servers (default: $REELHAVEN_OWNER)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format (table|json|yaml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(draftCmd)
	rootCmd.AddCommand(completionCmd)

	// Hide the default completion command (we provide our own)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// newClient builds an API client from the global flags and environment.
func newClient() *apiclient.Client {
	client := apiclient.New(serverURL)

	token := authToken
	if token == "" {
		token = os.Getenv("REELHAVEN_TOKEN")
	}
	if token != "" {
		client.SetToken(token)
	}

	owner := ownerID
	if owner == "" {
		owner = os.Getenv("REELHAVEN_OWNER")
	}
	if owner != "" {
		client.SetOwnerID(owner)
	}

	return client
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	PrintErr(format, args...)
	os.Exit(1)
}
