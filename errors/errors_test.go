package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		fatal     bool
	}{
		{"nil", nil, false, false, false},
		{"no connection", ErrNoConnection, true, false, false},
		{"wrapped no connection", fmt.Errorf("publish: %w", ErrNoConnection), true, false, false},
		{"connection timeout", ErrConnectionTimeout, true, false, false},
		{"deadline", context.DeadlineExceeded, true, false, false},
		{"invalid config", ErrInvalidConfig, false, true, false},
		{"missing config", ErrMissingConfig, false, true, false},
		{"retries exceeded", ErrMaxRetriesExceeded, false, false, true},
		{"classified transient", WrapTransient(stderrors.New("boom"), "queue", "Fetch", "pop"), true, false, false},
		{"classified invalid", WrapInvalid(stderrors.New("boom"), "config", "Load", "parse"), false, true, false},
		{"classified fatal", WrapFatal(stderrors.New("boom"), "store", "Store", "write"), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.invalid, IsInvalid(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
		})
	}
}

func TestClassifyDefaultsToTransient(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidConfig))
	assert.Equal(t, ErrorFatal, Classify(ErrMaxRetriesExceeded))
}

func TestWrapFormat(t *testing.T) {
	base := stderrors.New("connection refused")
	err := Wrap(base, "metricstore", "LoadLatest", "query")
	assert.EqualError(t, err, "metricstore.LoadLatest: query failed: connection refused")
	assert.ErrorIs(t, err, base)

	assert.Nil(t, Wrap(nil, "a", "b", "c"))
	assert.Nil(t, WrapTransient(nil, "a", "b", "c"))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := stderrors.New("boom")
	err := WrapTransient(base, "reactor", "process", "compute")

	var ce *ClassifiedError
	assert.True(t, stderrors.As(err, &ce))
	assert.Equal(t, "reactor", ce.Component)
	assert.Equal(t, "process", ce.Operation)
	assert.ErrorIs(t, err, base)
}
