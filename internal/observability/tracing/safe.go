package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// ExtractContext reads an upstream trace context from carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

var blockedAttributeKeys = map[attribute.Key]struct{}{
	"invoice_ref":     {},
	"payment_ref":     {},
	"description":     {},
	"reason":          {},
	"idempotency_key": {},
	"http.url":        {},
	"http.target":     {},
}

// SafeAttributes drops attributes that may carry client or matter details.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, blocked := blockedAttributeKeys[attr.Key]; blocked {
			continue
		}
		out = append(out, attr)
	}
	return out
}

type safeError struct {
	msg string
}

func (e safeError) Error() string { return e.msg }

// SafeError keeps a stable error code and drops driver and client detail.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return safeError{msg: coded.Code()}
	}
	for unwrapped := errors.Unwrap(err); unwrapped != nil; unwrapped = errors.Unwrap(unwrapped) {
		err = unwrapped
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return safeError{msg: "deadline_exceeded"}
	}
	return safeError{msg: "internal_error"}
}
