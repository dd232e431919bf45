package analysis

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
)

// awsError builds the error chain the AWS SDK returns for a failed call.
func awsError(status int, code, message string) error {
	return &smithy.OperationError{
		ServiceID:     "Bedrock Runtime",
		OperationName: "Converse",
		Err: &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
				Err:      &smithy.GenericAPIError{Code: code, Message: message},
			},
			RequestID: "9c4031aa-1b2c-4010-8403-401fa7e0b4a1",
		},
	}
}

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"openai quota", errors.New("API returned unexpected status code: 429: insufficient_quota"), true},
		{"billing issue", errors.New("billing account inactive"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"anthropic auth", errors.New(`{"type":"authentication_error","message":"invalid x-api-key"}`), true},
		{"wrapped error", fmt.Errorf("converse: %w", errors.New("credit balance too low")), true},
		{"bare status digits", errors.New("request 401-403 failed"), false},
		{"rate limit is transient", errors.New("rate limit exceeded"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
		{"aws access denied", awsError(403, "AccessDeniedException", "not authorized"), true},
		{"aws unknown client", awsError(403, "UnrecognizedClientException", "invalid token"), true},
		{"aws validation with 401 in request id", awsError(400, "ValidationException", "The document is corrupt"), false},
		{"aws throttling", awsError(429, "ThrottlingException", "Too many requests, rate limit"), false},
		{"aws 403 without code", &awshttp.ResponseError{
			ResponseError: &smithyhttp.ResponseError{
				Response: &smithyhttp.Response{Response: &http.Response{StatusCode: 403}},
				Err:      errors.New("forbidden"),
			},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, isFatalAPIError(tt.err))
		})
	}
}

func TestWrapFatalError(t *testing.T) {
	t.Run("wraps fatal error", func(t *testing.T) {
		wrapped := wrapFatalError(errors.New("invalid api key provided"))
		assert.ErrorIs(t, wrapped, ErrFatalAPI)
	})

	t.Run("passes through non-fatal error", func(t *testing.T) {
		err := errors.New("network timeout")
		result := wrapFatalError(err)
		assert.NotErrorIs(t, result, ErrFatalAPI)
		assert.Same(t, err, result)
	})

	t.Run("nil error", func(t *testing.T) {
		assert.NoError(t, wrapFatalError(nil))
	})
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Filename: "plan.pdf", Reason: "generate failed", Err: wrapFatalError(errors.New("invalid api key"))}
	assert.Equal(t, "analyze plan.pdf: generate failed: fatal API error: invalid api key", err.Error())
	assert.ErrorIs(t, err, ErrFatalAPI)

	var ae *Error
	assert.ErrorAs(t, fmt.Errorf("item 3: %w", err), &ae)
	assert.Equal(t, "plan.pdf", ae.Filename)
}
