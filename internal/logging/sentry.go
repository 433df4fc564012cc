package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled bool

// InitSentry initializes Sentry for crash reporting.
// Opt-in: enabled via user settings or POS_AGENT_SENTRY=1; the DSN comes from
// POS_AGENT_SENTRY_DSN. Returns true if Sentry was successfully initialized.
func InitSentry(version string, crashReportingEnabled bool) bool {
	envEnabled := os.Getenv("POS_AGENT_SENTRY") == "1"
	envDisabled := os.Getenv("POS_AGENT_SENTRY") == "0"

	enabled := crashReportingEnabled
	if envEnabled {
		enabled = true
	} else if envDisabled {
		enabled = false
	}

	dsn := os.Getenv("POS_AGENT_SENTRY_DSN")
	if !enabled || dsn == "" {
		return false
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Release:          "pos-agent@" + version,
		Environment:      getEnvironment(),
		AttachStacktrace: true,
		TracesSampleRate: 0.0,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize Sentry: %v\n", err)
		return false
	}

	sentryEnabled = true
	return true
}

func getEnvironment() string {
	env := os.Getenv("POS_AGENT_ENVIRONMENT")
	if env != "" {
		return env
	}
	return "production"
}

// SentryEnabled returns whether Sentry is currently enabled.
func SentryEnabled() bool {
	return sentryEnabled
}

// FlushSentry flushes any buffered events to Sentry. Call before exit.
func FlushSentry(timeout time.Duration) {
	if sentryEnabled {
		sentry.Flush(timeout)
	}
}

// CapturePanic sends a panic to Sentry along with the stack trace.
// This should be called from recover() handlers.
func CapturePanic(panicValue interface{}, stack []byte, context string) {
	if !sentryEnabled {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("panic_context", context)
		scope.SetExtra("stack_trace", string(stack))
		scope.SetLevel(sentry.LevelFatal)

		switch v := panicValue.(type) {
		case error:
			sentry.CaptureException(v)
		case string:
			sentry.CaptureMessage(v)
		default:
			sentry.CaptureMessage(fmt.Sprintf("%v", v))
		}
	})

	// Flush immediately for panics since app may crash
	sentry.Flush(2 * time.Second)
}

// CaptureError sends an error to Sentry.
func CaptureError(err error, context string, data map[string]interface{}) {
	if !sentryEnabled || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_context", context)
		for k, v := range data {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}
