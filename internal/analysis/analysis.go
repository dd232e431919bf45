// Package analysis turns floor-plan documents into extracted data by calling
// hosted language models.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"

	"github.com/raphaelgruber/floorplan-import/internal/models"
)

// ErrFatalAPI marks a credential or billing failure that will fail every
// following call as well.
var ErrFatalAPI = errors.New("fatal API error")

// Document is one PDF handed to an analyzer.
type Document struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Analyzer extracts building, room and facility data from a document.
type Analyzer interface {
	Analyze(ctx context.Context, doc Document) (models.ExtractedData, error)
}

// TextExtractor pulls plain text out of a PDF for text-only models.
type TextExtractor interface {
	ExtractText(ctx context.Context, document []byte) (string, error)
}

// Error is a recognized analysis fault for one document.
type Error struct {
	Filename string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analyze %s: %s: %v", e.Filename, e.Reason, e.Err)
	}
	return fmt.Sprintf("analyze %s: %s", e.Filename, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// fatalErrorCodes are AWS error codes that fail every call made with the
// same credentials. Throttling is transient and not listed.
var fatalErrorCodes = map[string]bool{
	"AccessDeniedException":       true,
	"UnrecognizedClientException": true,
	"InvalidSignatureException":   true,
	"ExpiredTokenException":       true,
}

// fatalPhrases identify account problems in provider errors that carry no
// typed code.
var fatalPhrases = []string{
	"credit balance",
	"insufficient_quota",
	"billing",
	"invalid api key",
	"incorrect api key",
	"invalid x-api-key",
	"authentication_error",
	"permission_error",
}

// isFatalAPIError reports credential and billing failures. Typed AWS errors
// are judged by code or HTTP status only, never by their message text.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fatalErrorCodes[apiErr.ErrorCode()]
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		return status == http.StatusUnauthorized || status == http.StatusForbidden
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range fatalPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// wrapFatalError tags credential and billing failures with ErrFatalAPI.
func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}
