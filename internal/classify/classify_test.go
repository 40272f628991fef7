package classify_test

import (
	"testing"

	"media-download-service/internal/classify"
)

func TestMessage_Rules(t *testing.T) {
	cases := []struct {
		name      string
		msg       string
		kind      classify.Kind
		retryable bool
	}{
		{"http 429", "ERROR: HTTP Error 429: Too Many Requests", classify.KindRateLimit, true},
		{"rate limit phrase", "Rate limited by YouTube", classify.KindRateLimit, true},
		{"bare 429", "got 429 from upstream", classify.KindRateLimit, true},
		{"sign in challenge", "Sign in to confirm you're not a bot", classify.KindBotDetection, true},
		{"captcha", "Please solve the CAPTCHA to continue", classify.KindBotDetection, true},
		{"private video", "Private video", classify.KindUnavailable, false},
		{"removed", "This video has been removed by the uploader", classify.KindUnavailable, false},
		{"unavailable", "Video unavailable", classify.KindUnavailable, false},
		{"copyright", "blocked on copyright grounds", classify.KindUnavailable, false},
		{"connection reset", "connection reset by peer", classify.KindNetwork, true},
		{"timeout", "read timed out", classify.KindNetwork, true},
		{"unknown", "something exploded", classify.KindUnknown, true},
		{"empty", "", classify.KindUnknown, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := classify.Message(tc.msg)
			if v.Kind != tc.kind {
				t.Fatalf("kind: expected %s, got %s", tc.kind, v.Kind)
			}
			if v.Retryable != tc.retryable {
				t.Fatalf("retryable: expected %v, got %v", tc.retryable, v.Retryable)
			}
			if v.Message != tc.msg {
				t.Fatalf("message must be preserved, got %q", v.Message)
			}
		})
	}
}

func TestMessage_BotDetectionWinsOverUnavailable(t *testing.T) {
	// yt-dlp mixes both phrases in one error; the sign-in challenge rule
	// must match first so the failure stays retryable.
	v := classify.Message("Sign in to confirm you're not a bot. This video is unavailable.")
	if v.Kind != classify.KindBotDetection {
		t.Fatalf("expected bot_detection, got %s", v.Kind)
	}
	if !v.Retryable {
		t.Fatal("expected retryable verdict")
	}
}

func TestMessage_CaseInsensitive(t *testing.T) {
	v := classify.Message("TOO MANY REQUESTS")
	if v.Kind != classify.KindRateLimit {
		t.Fatalf("expected rate_limit, got %s", v.Kind)
	}
}
