package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/trackshift/platform/docgateway/internal/apperr"
)

// Strategy is one way of producing an artifact. It returns the output path.
type Strategy struct {
	Name string
	Run  func(ctx context.Context) (string, error)
}

// Attempt records one failed strategy.
type Attempt struct {
	Strategy string
	Err      error
}

// ChainError is returned when every strategy in a chain failed.
type ChainError struct {
	Attempts []Attempt
}

func (e *ChainError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Strategy, a.Err))
	}
	return "all strategies failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes every attempt error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	out := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Err
	}
	return out
}

// Detail joins the captured tool output of every attempt.
func (e *ChainError) Detail() string {
	var b strings.Builder
	for _, a := range e.Attempts {
		msg := a.Err.Error()
		var te *apperr.ToolError
		if errors.As(a.Err, &te) && strings.TrimSpace(te.Detail) != "" {
			msg = strings.TrimSpace(te.Detail)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s] %s", a.Strategy, msg)
	}
	return b.String()
}

// Chain runs strategies in order and returns the first success. A strategy
// runs only after the previous one failed. When all fail the error is a
// ToolError named tool wrapping a ChainError.
func Chain(ctx context.Context, logger zerolog.Logger, tool string, strategies ...Strategy) (string, error) {
	var attempts []Attempt
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Strategy: s.Name, Err: err})
			break
		}
		path, err := s.Run(ctx)
		if err == nil {
			if len(attempts) > 0 {
				logger.Info().Str("strategy", s.Name).Int("failed_before", len(attempts)).Msg("fallback strategy succeeded")
			}
			return path, nil
		}
		logger.Warn().Err(err).Str("strategy", s.Name).Msg("strategy failed")
		attempts = append(attempts, Attempt{Strategy: s.Name, Err: err})
	}
	if len(attempts) == 0 {
		return "", &apperr.ToolError{Tool: tool, Err: errors.New("no strategies configured")}
	}
	ce := &ChainError{Attempts: attempts}
	return "", &apperr.ToolError{Tool: tool, Detail: ce.Detail(), Err: ce}
}
