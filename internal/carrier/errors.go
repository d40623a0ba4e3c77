package carrier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spiritcandles/fulfillment/internal/platform/textutil"
)

// maxViolations caps how many distinct field violations are surfaced to operators.
const maxViolations = 6

var (
	// ErrUnavailable covers transport failures, timeouts and 5xx responses.
	ErrUnavailable = errors.New("carrier: service unavailable")
	// ErrUnauthorized is returned when the aggregator rejects our credentials.
	ErrUnauthorized = errors.New("carrier: unauthorized")
	// ErrNotFound is returned when the aggregator does not know the shipment.
	ErrNotFound = errors.New("carrier: not found")
)

// Violation is a single field-level rejection reported by the aggregator.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports that the aggregator refused a shipment. Violations are unique by
// (path, message) and capped so a noisy response stays readable.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "carrier: shipment rejected"
	}
	return "carrier: shipment rejected: " + strings.Join(e.Messages(), "; ")
}

// Messages returns each violation qualified by its field path, in response order.
func (e *ValidationError) Messages() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.String())
	}
	return out
}

// String renders the violation as "path: message", or the bare message when the path is empty.
func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// newValidationError strips markup from messages, drops blanks and repeated (path, message) pairs,
// and keeps the first maxViolations entries.
func newValidationError(raw []Violation) *ValidationError {
	seen := make(map[Violation]struct{}, len(raw))
	violations := make([]Violation, 0, min(len(raw), maxViolations))
	for _, v := range raw {
		message := textutil.PlainText(v.Message)
		if message == "" {
			continue
		}
		violation := Violation{Path: strings.TrimSpace(v.Path), Message: message}
		if _, ok := seen[violation]; ok {
			continue
		}
		seen[violation] = struct{}{}
		violations = append(violations, violation)
		if len(violations) == maxViolations {
			break
		}
	}
	return &ValidationError{Violations: violations}
}
