package provider

import (
	"fmt"
	"net/http"
	"time"

	"github.com/boardroomjournal/core/domain"
)

// classifyHTTPError maps a non-200 vendor response onto the module's
// closed error-kind taxonomy so internal/retry and the circuit breaker
// can decide transient-vs-permanent without knowing about HTTP at all.
func classifyHTTPError(status int, body []byte) error {
	switch {
	case status == http.StatusTooManyRequests:
		return domain.RateLimited(30 * time.Second)
	case status >= 500:
		return domain.RemoteUnavailable(fmt.Errorf("status %d: %s", status, string(body)))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.RemoteRejected(fmt.Sprintf("status %d: %s", status, string(body)))
	default:
		return domain.RemoteRejected(fmt.Sprintf("status %d: %s", status, string(body)))
	}
}
