// Package classify maps raw worker failure text to a structured verdict.
package classify

import "strings"

type Kind string

const (
	KindBotDetection Kind = "bot_detection"
	KindRateLimit    Kind = "rate_limit"
	KindUnavailable  Kind = "unavailable"
	KindNetwork      Kind = "network"
	KindUnknown      Kind = "unknown"
)

// Verdict is the classification of one failure message.
type Verdict struct {
	Kind      Kind
	Message   string
	Retryable bool
}

type rule struct {
	kind      Kind
	retryable bool
	keywords  []string
}

// Rules are evaluated top to bottom, first match wins. Order matters:
// a "sign in" challenge often also mentions the video being unavailable,
// and bot detection must win that tie.
var rules = []rule{
	{KindBotDetection, true, []string{
		"sign in to confirm",
		"captcha",
		"not a bot",
		"not a robot",
		"verification",
	}},
	{KindRateLimit, true, []string{
		"429",
		"too many requests",
		"rate limit",
		"rate-limit",
		"rate limited",
	}},
	{KindUnavailable, false, []string{
		"unavailable",
		"private",
		"removed",
		"not found",
		"not available",
		"copyright",
	}},
	{KindNetwork, true, []string{
		"network",
		"connection",
		"timed out",
		"timeout",
	}},
}

// Message classifies a failure message. Pure and total: any input yields a
// verdict, with unrecognized failures assumed transient.
func Message(msg string) Verdict {
	lower := strings.ToLower(msg)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return Verdict{Kind: r.kind, Message: msg, Retryable: r.retryable}
			}
		}
	}
	return Verdict{Kind: KindUnknown, Message: msg, Retryable: true}
}
