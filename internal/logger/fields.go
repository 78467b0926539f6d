package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so uploads can be
// correlated end to end, from the first chunk to the final pin.
const (
	// Distributed tracing
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// Upload session
	KeyUploadID = "upload_id" // Upload session identifier
	KeyOwnerID  = "owner_id"  // Uploader identity (opaque, from the identity collaborator)
	KeyState    = "state"     // Session lifecycle state
	KeyDraftID  = "draft_id"  // Metadata draft handle

	// Byte accounting
	KeyOffset   = "offset"    // Byte offset within the upload
	KeyLength   = "length"    // Chunk or range length in bytes
	KeyReceived = "received"  // Received high-water mark
	KeyDeclared = "declared"  // Declared total size
	KeyChunkLen = "chunk_len" // Accepted chunk length

	// Pipeline
	KeyStage     = "stage"     // Pipeline stage name
	KeyAttempt   = "attempt"   // Retry attempt number
	KeyRendition = "rendition" // Rendition name (240p, 720p, ...)
	KeyErrorCode = "error_code"

	// Storage
	KeyStoreName = "store_name" // Named store identifier
	KeyStoreType = "store_type" // Store type: fs, s3, memory, badger
	KeyBucket    = "bucket"     // S3 bucket name
	KeyKey       = "key"        // Object key
	KeyCID       = "cid"        // Content address

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyClientIP   = "client_ip"
	KeyRequestID  = "request_id"
)

// UploadID returns a slog.Attr for the upload session identifier.
func UploadID(id string) slog.Attr {
	return slog.String(KeyUploadID, id)
}

// OwnerID returns a slog.Attr for the uploader identity.
func OwnerID(id string) slog.Attr {
	return slog.String(KeyOwnerID, id)
}

// State returns a slog.Attr for a session lifecycle state.
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// Offset returns a slog.Attr for a byte offset.
func Offset(off int64) slog.Attr {
	return slog.Int64(KeyOffset, off)
}

// Length returns a slog.Attr for a byte length.
func Length(n int64) slog.Attr {
	return slog.Int64(KeyLength, n)
}

// Stage returns a slog.Attr for a pipeline stage name.
func Stage(s string) slog.Attr {
	return slog.String(KeyStage, s)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// Rendition returns a slog.Attr for a rendition name.
func Rendition(name string) slog.Attr {
	return slog.String(KeyRendition, name)
}

// CID returns a slog.Attr for a content address.
func CID(cid string) slog.Attr {
	return slog.String(KeyCID, cid)
}

// StoreName returns a slog.Attr for a named store identifier.
func StoreName(name string) slog.Attr {
	return slog.String(KeyStoreName, name)
}

// StoreType returns a slog.Attr for a store type.
func StoreType(t string) slog.Attr {
	return slog.String(KeyStoreType, t)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
