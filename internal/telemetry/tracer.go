package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for upload and pipeline operations.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Upload protocol attributes
	// ========================================================================
	AttrUploadID  = "upload.id"
	AttrOwnerID   = "upload.owner_id"
	AttrOffset    = "upload.offset"
	AttrChunkSize = "upload.chunk_size"
	AttrSize      = "upload.size"
	AttrState     = "upload.state"
	AttrMIME      = "upload.mime"

	// ========================================================================
	// Pipeline attributes
	// ========================================================================
	AttrStage     = "pipeline.stage"
	AttrAttempt   = "pipeline.attempt"
	AttrRendition = "pipeline.rendition"
	AttrFailCode  = "pipeline.failure_code"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrContentID = "content.id"
	AttrStoreType = "store.type"
	AttrBucket    = "storage.bucket"
	AttrKey       = "storage.key"
	AttrRegion    = "storage.region"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	// Upload protocol spans
	SpanUploadCreate = "upload.create"
	SpanUploadAppend = "upload.append"
	SpanUploadProbe  = "upload.probe"
	SpanUploadAbort  = "upload.abort"

	// Blob store spans
	SpanBlobAppend = "blob.append"
	SpanBlobRead   = "blob.read"
	SpanBlobDelete = "blob.delete"

	// Pipeline spans
	SpanPipelineJob       = "pipeline.job"
	SpanPipelineProbe     = "pipeline.probe"
	SpanPipelineTranscode = "pipeline.transcode"
	SpanPipelinePin       = "pipeline.pin"

	// CAS spans
	SpanPinPut    = "pin.put"
	SpanPinVerify = "pin.verify"
)

// UploadID returns an attribute for the upload session ID
func UploadID(id string) attribute.KeyValue {
	return attribute.String(AttrUploadID, id)
}

// OwnerID returns an attribute for the session owner
func OwnerID(id string) attribute.KeyValue {
	return attribute.String(AttrOwnerID, id)
}

// Offset returns an attribute for a byte offset
func Offset(offset int64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, offset)
}

// Size returns an attribute for a byte size
func Size(size int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, size)
}

// State returns an attribute for the session lifecycle state
func State(state string) attribute.KeyValue {
	return attribute.String(AttrState, state)
}

// Stage returns an attribute for the pipeline stage name
func Stage(stage string) attribute.KeyValue {
	return attribute.String(AttrStage, stage)
}

// Attempt returns an attribute for the job attempt number
func Attempt(attempt int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, attempt)
}

// Rendition returns an attribute for a ladder rendition name
func Rendition(name string) attribute.KeyValue {
	return attribute.String(AttrRendition, name)
}

// FailureCode returns an attribute for a permanent pipeline failure code
func FailureCode(code string) attribute.KeyValue {
	return attribute.String(AttrFailCode, code)
}

// ContentID returns an attribute for a content address
func ContentID(id string) attribute.KeyValue {
	return attribute.String(AttrContentID, id)
}

// StoreType returns an attribute for a storage backend type
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// Bucket returns an attribute for an S3 bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an S3 object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for a cloud region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// StartUploadSpan starts a span for an upload protocol operation.
// This is a convenience function that sets common attributes.
func StartUploadSpan(ctx context.Context, name, uploadID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		UploadID(uploadID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartPipelineSpan starts a span for a pipeline stage.
func StartPipelineSpan(ctx context.Context, stage, uploadID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		UploadID(uploadID),
		Stage(stage),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "pipeline."+stage, trace.WithAttributes(allAttrs...))
}

// StartPinSpan starts a span for a content-addressed store operation.
func StartPinSpan(ctx context.Context, operation, contentID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		ContentID(contentID),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "pin."+operation, trace.WithAttributes(allAttrs...))
}
