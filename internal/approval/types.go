package approval

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDuplicateRequest = errors.New("permission request already pending")
	ErrRequestNotFound  = errors.New("permission request not found")
	ErrInvalidDecision  = errors.New("decision must be 'allow' or 'deny'")
)

// Decision is the human verdict on a permission request.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// ParseDecision accepts exactly "allow" or "deny".
func ParseDecision(raw string) (Decision, error) {
	switch Decision(raw) {
	case DecisionAllow:
		return DecisionAllow, nil
	case DecisionDeny:
		return DecisionDeny, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, raw)
	}
}

// Resolution is delivered to the waiter of a pending request.
type Resolution struct {
	Decision Decision
	// Remember asks the hook to auto-allow the same tool and path from now on.
	Remember bool
}

// Request is a tool invocation awaiting a decision.
type Request struct {
	ID           string         `json:"id"`
	ToolName     string         `json:"tool_name"`
	Input        map[string]any `json:"input,omitempty"`
	Path         string         `json:"path,omitempty"`
	RelativePath string         `json:"relative_path,omitempty"`
	Diff         string         `json:"diff,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Query filters pending requests when listing.
type Query struct {
	ToolName string
}
