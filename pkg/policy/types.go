package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/robocore/robocore/pkg/motion"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block motion.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the motion request.
	SeverityError Severity = "error"

	// SeverityCritical blocks the motion request.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies the request.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Violations are read from the
	// module's deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the runtime. Reloads keep them.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`

	// UpdatedAt is when the policy was last loaded.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Decision is the outcome of evaluating every enabled policy against one
// motion request.
type Decision struct {
	Allowed     bool          `json:"allowed"`
	Violations  []Violation   `json:"violations,omitempty"`
	Warnings    []Violation   `json:"warnings,omitempty"`
	Evaluated   []string      `json:"evaluated"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	Motion  motion.Intent `json:"motion"`
	Context InputContext  `json:"context"`
}

// InputContext carries evaluation metadata.
type InputContext struct {
	Timestamp time.Time `json:"timestamp"`
	Robot     string    `json:"robot,omitempty"`
}

// DeniedError is returned by Guard.Allow when a blocking violation exists.
type DeniedError struct {
	Violations []Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = fmt.Sprintf("%s: %s", v.Policy, v.Message)
	}
	return strings.Join(msgs, "; ")
}
