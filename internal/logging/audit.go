package logging

import (
	"time"

	"go.uber.org/zap"
)

// AuditEventType names one kind of audit record.
type AuditEventType string

const (
	AuditRunStart      AuditEventType = "run_start"
	AuditRunEnd        AuditEventType = "run_end"
	AuditAttempt       AuditEventType = "attempt"
	AuditModelCall     AuditEventType = "model_call"
	AuditSecurityAllow AuditEventType = "security_allow"
	AuditSecurityBlock AuditEventType = "security_block"
	AuditExecution     AuditEventType = "execution"
)

// AuditLogger writes structured audit records for one pipeline run.
// Records go to the "audit" child of the root logger at info level.
type AuditLogger struct {
	log *zap.Logger
}

// Audit returns an audit logger scoped to runID.
func Audit(runID string) *AuditLogger {
	return &AuditLogger{log: Root().Named("audit").With(zap.String("run_id", runID))}
}

func (a *AuditLogger) emit(event AuditEventType, fields ...zap.Field) {
	a.log.Info(string(event), append(fields, zap.String("event", string(event)))...)
}

// RunStart records a new run.
func (a *AuditLogger) RunStart(question, mode string, maxAttempts int) {
	a.emit(AuditRunStart,
		zap.String("question", Truncate(question, 200)),
		zap.String("mode", mode),
		zap.Int("max_attempts", maxAttempts))
}

// RunEnd records the terminal state.
func (a *AuditLogger) RunEnd(state string, attempts int, failure string, elapsed time.Duration) {
	fields := []zap.Field{
		zap.String("state", state),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", elapsed),
	}
	if failure != "" {
		fields = append(fields, zap.String("failure", failure))
	}
	a.emit(AuditRunEnd, fields...)
}

// Attempt records the outcome of one attempt.
func (a *AuditLogger) Attempt(index int, outcome string, defects int, terminal bool) {
	a.emit(AuditAttempt,
		zap.Int("index", index),
		zap.String("outcome", outcome),
		zap.Int("defects", defects),
		zap.Bool("terminal", terminal))
}

// ModelCall records one model round trip.
func (a *AuditLogger) ModelCall(promptBytes, responseBytes int, elapsed time.Duration, errKind string) {
	fields := []zap.Field{
		zap.Int("prompt_bytes", promptBytes),
		zap.Int("response_bytes", responseBytes),
		zap.Duration("elapsed", elapsed),
	}
	if errKind != "" {
		fields = append(fields, zap.String("error_kind", errKind))
	}
	a.emit(AuditModelCall, fields...)
}

// SecurityCheck records a filter verdict.
func (a *AuditLogger) SecurityCheck(allowed bool, ruleSet string, rules []string) {
	event := AuditSecurityAllow
	if !allowed {
		event = AuditSecurityBlock
	}
	a.emit(event, zap.String("ruleset", ruleSet), zap.Strings("rules", rules))
}

// Execution records a sandbox result.
func (a *AuditLogger) Execution(ok bool, kind string, elapsed time.Duration) {
	a.emit(AuditExecution,
		zap.Bool("ok", ok),
		zap.String("kind", kind),
		zap.Duration("elapsed", elapsed))
}
