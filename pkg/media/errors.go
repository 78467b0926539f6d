package media

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedCodec is returned when the source has no decodable video
	// stream. It is permanent: retrying will not make the codec supported.
	ErrUnsupportedCodec = errors.New("unsupported codec")

	// ErrProbeFailed is returned when ffprobe cannot parse the source at
	// all, typically a truncated or non-video file.
	ErrProbeFailed = errors.New("probe failed")
)

// ToolError carries the exit condition of an ffmpeg/ffprobe invocation,
// including trailing stderr for the logs.
type ToolError struct {
	Tool   string
	Err    error
	Stderr string
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Stderr)
}

func (e *ToolError) Unwrap() error { return e.Err }

// tailOf trims tool output to the last few lines for error messages.
func tailOf(out []byte, maxLen int) string {
	s := string(out)
	if len(s) > maxLen {
		s = "..." + s[len(s)-maxLen:]
	}
	return s
}
