package commands

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reelhaven/reelhaven/internal/bytesize"
	"github.com/reelhaven/reelhaven/pkg/apiclient"
)

var (
	uploadKey       string
	uploadMIME      string
	uploadChunkSize string
	uploadQuiet     bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a video file",
	Long: `Upload a video file over the resumable protocol.

The upload is chunked and survives interruptions: re-run the same command
with the same --key and the client continues from the byte the server
reports, never re-sending data that already landed.

Examples:
  # Upload a file
  reelhavenctl upload clip.mp4

  # Resume an interrupted upload
  reelhavenctl upload clip.mp4 --key my-upload-1

  # Upload with an explicit chunk size
  reelhavenctl upload clip.mp4 --chunk-size 8Mi`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadKey, "key", "", "Idempotency key (default: derived from file name, size and mtime)")
	uploadCmd.Flags().StringVar(&uploadMIME, "mime", "", "MIME type (default: detected from extension)")
	uploadCmd.Flags().StringVar(&uploadChunkSize, "chunk-size", "", "Requested chunk size, e.g. 8Mi (default: server decides)")
	uploadCmd.Flags().BoolVarP(&uploadQuiet, "quiet", "q", false, "Suppress progress output")
}

func runUpload(cmd *cobra.Command, args []string) error {
	path := args[0]

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	mimeType := uploadMIME
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = mimeType[:i]
		}
	}
	if mimeType == "" {
		return fmt.Errorf("could not detect MIME type for %s, use --mime", path)
	}

	var chunkSize int64
	if uploadChunkSize != "" {
		size, err := bytesize.ParseByteSize(uploadChunkSize)
		if err != nil {
			return fmt.Errorf("invalid chunk size: %w", err)
		}
		chunkSize = int64(size)
	}

	req := apiclient.CreateUploadRequest{
		IdempotencyKey: uploadKey,
		Filename:       filepath.Base(path),
		MIMEType:       mimeType,
		Size:           info.Size(),
		ChunkSize:      chunkSize,
		LastModifiedMs: info.ModTime().UnixMilli(),
	}
	if req.IdempotencyKey == "" {
		// A key derived from the file identity makes a plain re-run resume
		// instead of opening a second session.
		req.IdempotencyKey = fmt.Sprintf("%s:%d:%d", req.Filename, req.Size, req.LastModifiedMs)
	}

	client := newClient()
	ctx := cmd.Context()

	sess, err := client.CreateUpload(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}
	if !uploadQuiet {
		fmt.Printf("Upload session: %s (chunk size %s)\n",
			sess.UploadID, bytesize.ByteSize(sess.ChunkSize))
	}

	opts := apiclient.UploadOptions{}
	if !uploadQuiet {
		opts.Progress = func(sent, total int64) {
			percent := float64(sent) / float64(total) * 100
			fmt.Printf("\r  %s / %s (%.1f%%)",
				bytesize.ByteSize(sent), bytesize.ByteSize(total), percent)
		}
	}

	if err := client.UploadWithOptions(ctx, sess, req, file, opts); err != nil {
		if !uploadQuiet {
			fmt.Println()
		}
		return fmt.Errorf("upload failed: %w", err)
	}
	if !uploadQuiet {
		fmt.Println()
	}

	fmt.Printf("Upload complete: %s\n", sess.UploadID)
	fmt.Printf("Check processing progress with: reelhavenctl status %s\n", sess.UploadID)
	return nil
}
