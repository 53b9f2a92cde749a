// Package llm is the model-calling collaborator: a Generator turns a prompt
// into raw model text or a classified ModelError.
package llm

import (
	"context"
	"net"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"vizguard/internal/logging"
)

// Generator produces raw model output for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrorKind classifies model-side failures.
type ErrorKind string

const (
	KindTimeout          ErrorKind = "timeout"
	KindRateLimited      ErrorKind = "rate_limited"
	KindTransportFailure ErrorKind = "transport_failure"
)

// ModelError is the only error a Generator in this package returns.
type ModelError struct {
	Kind ErrorKind
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err == nil {
		return "model " + string(e.Kind)
	}
	return "model " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *ModelError) Unwrap() error { return e.Err }

// AsModelError classifies err, reusing an existing ModelError in the chain.
func AsModelError(err error) *ModelError {
	if err == nil {
		return nil
	}
	var me *ModelError
	if errors.As(err, &me) {
		return me
	}
	return &ModelError{Kind: classify(err), Err: err}
}

func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	switch code {
	case 429:
		return KindRateLimited
	case 408, 504:
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "rate limit"):
		return KindRateLimited
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return KindTimeout
	}
	return KindTransportFailure
}

// Limited applies a client-side request rate to another Generator.
type Limited struct {
	next    Generator
	limiter *rate.Limiter
}

// NewLimited allows requestsPerMinute calls with a burst of one. A
// non-positive rate returns next unchanged.
func NewLimited(next Generator, requestsPerMinute int) Generator {
	if requestsPerMinute <= 0 {
		return next
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
	}
}

// Generate waits for a token, then delegates. A wait cut short by the
// context is reported as rate_limited.
func (l *Limited) Generate(ctx context.Context, prompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		logging.API("rate limiter wait aborted: %v", err)
		return "", &ModelError{Kind: KindRateLimited, Err: err}
	}
	return l.next.Generate(ctx, prompt)
}
