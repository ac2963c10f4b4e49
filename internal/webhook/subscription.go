package webhook

import (
	"errors"
	"fmt"
	"net/url"

	"catalogsync/internal/events"
	"catalogsync/internal/model"
	"catalogsync/pkg/constraints"
)

const (
	DefaultRetryCount     = 3
	DefaultTimeoutSeconds = 30
	MaxRetryCount         = constraints.WebhookMaxRetries
	MaxTimeoutSeconds     = constraints.WebhookMaxTimeoutSeconds
	maxURLLength          = 500
)

var ErrInvalidSubscription = errors.New("invalid webhook subscription")

// Normalize fills defaults on a new subscription and validates it.
// A zero timeout is replaced by the default.
func Normalize(sub *model.WebhookSubscription) error {
	if sub.TimeoutSeconds == 0 {
		sub.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return Validate(sub)
}

func Validate(sub *model.WebhookSubscription) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidSubscription, fmt.Sprintf(format, args...))
	}

	if len(sub.URL) > maxURLLength {
		return invalid("url exceeds %d characters", maxURLLength)
	}
	u, err := url.Parse(sub.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("url must be an absolute http or https URL")
	}

	if len(sub.Events) == 0 {
		return invalid("at least one event is required")
	}
	for _, e := range sub.Events {
		if !events.Valid(e) {
			return invalid("unknown event %q", e)
		}
	}

	if sub.RetryCount < 0 || sub.RetryCount > MaxRetryCount {
		return invalid("retry_count must be between 0 and %d", MaxRetryCount)
	}
	if sub.TimeoutSeconds < 1 || sub.TimeoutSeconds > MaxTimeoutSeconds {
		return invalid("timeout must be between 1 and %d seconds", MaxTimeoutSeconds)
	}
	return nil
}
