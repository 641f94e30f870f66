// Package notify sends operator alerts for trade outcomes and faults.
// Notification failures are logged and swallowed: an unreachable mail server
// must never break a trading cycle.
package notify

import "context"

// Notifier delivers operator-facing alerts.
type Notifier interface {
	// Success reports a completed trading action.
	Success(ctx context.Context, subject, body string)

	// Error reports a failure that needs operator attention.
	Error(ctx context.Context, subject, body string)

	// Suspended reports a bond whose trading is halted and was skipped.
	Suspended(ctx context.Context, code, name string)

	// Terminal reports an unrecoverable condition, such as reconnect
	// exhaustion, that requires manual intervention.
	Terminal(ctx context.Context, subject, body string)
}

// NopNotifier discards every notification. Used when mail is not configured.
type NopNotifier struct{}

func (NopNotifier) Success(context.Context, string, string) {}

func (NopNotifier) Error(context.Context, string, string) {}

func (NopNotifier) Suspended(context.Context, string, string) {}

func (NopNotifier) Terminal(context.Context, string, string) {}
