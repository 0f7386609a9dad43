package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

type codedErr struct{}

func (codedErr) Error() string { return "insufficient balance on retainer 42 for invoice INV-9" }
func (codedErr) Code() string  { return "insufficient_balance" }

func TestSafeAttributes(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("retainer.operation", "consume"),
		attribute.String("invoice_ref", "INV-9"),
		attribute.String("http.url", "/api/retainers/1?x=y"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("retainer.operation"), attrs[0].Key)
}

func TestSafeError(t *testing.T) {
	assert.Nil(t, SafeError(nil))
	assert.EqualError(t, SafeError(codedErr{}), "insufficient_balance")
	assert.EqualError(t, SafeError(fmt.Errorf("tx: %w", context.DeadlineExceeded)), "deadline_exceeded")
	assert.EqualError(t, SafeError(errors.New("pq: password authentication failed")), "internal_error")
}
