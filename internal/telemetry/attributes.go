// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the daemon.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	RecordingIDKey       = "recording.id"
	RecordingFilenameKey = "recording.filename"
	RecordingSizeKey     = "recording.size_bytes"

	SyncProviderKey = "sync.provider"
	SyncReasonKey   = "sync.reason"
	SyncPendingKey  = "sync.pending"

	MediatorResultKey     = "mediator.result"
	MediatorGenerationKey = "mediator.generation"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// RecordingAttributes describes the recording a span works on.
func RecordingAttributes(id int64, filename string, size int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int64(RecordingIDKey, id)}
	if filename != "" {
		attrs = append(attrs, attribute.String(RecordingFilenameKey, filename))
	}
	if size > 0 {
		attrs = append(attrs, attribute.Int64(RecordingSizeKey, size))
	}
	return attrs
}

// SyncAttributes describes a sync pass.
func SyncAttributes(provider, reason string, pending int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SyncProviderKey, provider),
		attribute.String(SyncReasonKey, reason),
		attribute.Int(SyncPendingKey, pending),
	}
}

// MediatorAttributes describes a mediated request.
func MediatorAttributes(result, generation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(MediatorResultKey, result),
		attribute.String(MediatorGenerationKey, generation),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
