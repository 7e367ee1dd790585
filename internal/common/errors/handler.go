// internal/common/errors/handler.go
package errors

import (
	"context"
)

// Reporter normalizes transition errors, logs them, and escalates the
// non-retryable ones that need an operator.
type Reporter struct {
	logger Logger
	alert  AlertFunc
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// AlertFunc delivers an operator-visible alert. Nil disables alerting.
type AlertFunc func(ctx context.Context, subject, body string) error

func NewReporter(logger Logger, alert AlertFunc) *Reporter {
	return &Reporter{logger: logger, alert: alert}
}

// Report handles any error from a saga transition. It returns true when the
// caller should retry (have the message redelivered), false when the error is
// terminal and the message should be acknowledged as handled.
func (r *Reporter) Report(ctx context.Context, source string, receiptCode int64, err error) bool {
	stdErr := r.normalize(source, err)

	fields := map[string]interface{}{
		"source":      source,
		"receiptCode": receiptCode,
		"errorCode":   stdErr.Code,
		"category":    GetErrorCategory(stdErr.Code),
		"details":     stdErr.Details,
		"retryable":   stdErr.Retryable,
		"retryCount":  GetRetryCount(stdErr.Code),
	}

	if stdErr.Retryable {
		r.logger.Warn("transient saga error, message will be redelivered", fields)
		return true
	}

	r.logger.Error("terminal saga error", fields)

	if stdErr.Code == ErrCodeCompensationFailed && r.alert != nil {
		subject := "Saga compensation failed"
		body := stdErr.Details
		if alertErr := r.alert(ctx, subject, body); alertErr != nil {
			r.logger.Error("operator alert delivery failed", map[string]interface{}{
				"receiptCode": receiptCode,
				"error":       alertErr.Error(),
			})
		}
	}

	return false
}

func (r *Reporter) normalize(source string, err error) *StandardError {
	var stdErr *StandardError
	if As(err, &stdErr) {
		return stdErr
	}

	// Unclassified errors are treated as transient infrastructure failures so
	// redelivery gets another chance; the idempotency layer absorbs duplicates.
	return NewConsumeError(source, err)
}
