package store

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

// Sentinel errors for record store operations. Classified errors wrap both
// the sentinel and the original SDK error.
var (
	ErrThrottled     = errors.New("store: request throttled")
	ErrAccessDenied  = errors.New("store: access denied")
	ErrTableNotFound = errors.New("store: table not found")
	ErrValidation    = errors.New("store: request rejected by validation")
)

// classify maps DynamoDB API error codes onto the sentinel errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded":
			return fmt.Errorf("%s: %w: %w", op, ErrThrottled, err)
		case "AccessDeniedException", "UnrecognizedClientException":
			return fmt.Errorf("%s: %w: %w", op, ErrAccessDenied, err)
		case "ResourceNotFoundException":
			return fmt.Errorf("%s: %w: %w", op, ErrTableNotFound, err)
		case "ValidationException":
			return fmt.Errorf("%s: %w: %w", op, ErrValidation, err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
