package cascade

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration marks setup errors reported before any generation.
var ErrConfiguration = errors.New("cascade configuration error")

// Failure stages.
const (
	StageSetup    = "setup"
	StageDraft    = "draft"
	StageVerifier = "verifier"
	StageTool     = "tool"
)

// FailureError is the diagnostic surfaced for a FAILED outcome.
type FailureError struct {
	Stage    string
	Layer    string
	Attempts int
	Feedback []string
	Err      error
}

func (e *FailureError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "cascade failed at %s after %d attempt(s)", e.Stage, e.Attempts)
	if e.Layer != "" {
		fmt.Fprintf(&sb, " (last failing layer: %s)", e.Layer)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
