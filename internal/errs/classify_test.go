package errs

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDecisionTable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  Kind
		retryable bool
	}{
		{
			name:      "transport failure",
			err:       &url.Error{Op: "Get", URL: "http://example.com", Err: errors.New("connection refused")},
			wantKind:  KindNetwork,
			retryable: true,
		},
		{
			name:      "deadline exceeded",
			err:       context.DeadlineExceeded,
			wantKind:  KindTimeout,
			retryable: true,
		},
		{
			name:      "http 401",
			err:       &HTTPError{StatusCode: 401},
			wantKind:  KindAuth,
			retryable: false,
		},
		{
			name:      "http 403",
			err:       &HTTPError{StatusCode: 403},
			wantKind:  KindAuth,
			retryable: false,
		},
		{
			name:      "http 422",
			err:       &HTTPError{StatusCode: 422},
			wantKind:  KindValidation,
			retryable: false,
		},
		{
			name:      "http 409",
			err:       &HTTPError{StatusCode: 409},
			wantKind:  KindConflict,
			retryable: false,
		},
		{
			name:      "http 429",
			err:       &HTTPError{StatusCode: 429, RetryAfter: 2 * time.Second},
			wantKind:  KindRateLimit,
			retryable: true,
		},
		{
			name:      "http 500",
			err:       &HTTPError{StatusCode: 500},
			wantKind:  KindServer,
			retryable: true,
		},
		{
			name:      "http 503",
			err:       &HTTPError{StatusCode: 503},
			wantKind:  KindServer,
			retryable: true,
		},
		{
			name:      "ok false payload",
			err:       &RemoteFailure{Message: "campo requerido"},
			wantKind:  KindValidation,
			retryable: false,
		},
		{
			name:      "anything unmatched",
			err:       errors.New("weird"),
			wantKind:  KindUnknown,
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(tt.err, nil)
			require.NotNil(t, ce)
			assert.Equal(t, tt.wantKind, ce.Kind)
			assert.Equal(t, tt.retryable, ce.Retryable)
			assert.NotEmpty(t, ce.UserMessage)
			assert.NotEqual(t, ce.Message, ce.UserMessage)
		})
	}
}

func TestClassifyIsPure(t *testing.T) {
	err := &HTTPError{StatusCode: 500, Body: "boom"}

	first := Classify(err, nil)
	second := Classify(err, nil)

	assert.Equal(t, first.Kind, second.Kind)
	assert.Equal(t, first.Retryable, second.Retryable)
	assert.Equal(t, first.Message, second.Message)
}

func TestClassifyRetryAfter(t *testing.T) {
	ce := Classify(&HTTPError{StatusCode: 429, RetryAfter: 3 * time.Second}, nil)
	assert.Equal(t, 3*time.Second, ce.RetryAfter)
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil, nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Classify(&HTTPError{StatusCode: 500}, nil)))
	assert.False(t, IsRetryable(Classify(&HTTPError{StatusCode: 401}, nil)))
	assert.False(t, IsRetryable(errors.New("raw")))
}

func TestAsClassifiedPassthrough(t *testing.T) {
	ce := Classify(&HTTPError{StatusCode: 500}, nil)
	assert.Same(t, ce, AsClassified(ce))

	wrapped := AsClassified(errors.New("plain"))
	assert.Equal(t, KindUnknown, wrapped.Kind)
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	cause := &HTTPError{StatusCode: 500}
	ce := Classify(cause, nil)

	var target *HTTPError
	require.True(t, errors.As(ce, &target))
	assert.Equal(t, 500, target.StatusCode)
}
