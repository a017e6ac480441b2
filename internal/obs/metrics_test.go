package obs

import (
	"bytes"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                             "/",
		"/metrics":                                     "/metrics",
		"/v1/submissions/01HX":                         "/v1/submissions/:id",
		"/v1/submissions/01HX/notes":                   "/v1/submissions/:id/notes",
		"/v1/submissions/01HX/extra":                   "/v1/submissions/01HX/extra",
		"/v1/codes/personal?kind=survey":               "/v1/codes/personal",
		"/v1/codes/abcdef":                             "/v1/codes/:id",
		"/v1/station-change-requests/my-request":       "/v1/station-change-requests/my-request",
		"/v1/station-change-requests/r1/approve":       "/v1/station-change-requests/:id/approve",
		"/v1/station-commander/requests/r1/deny":       "/v1/station-commander/requests/:id/deny",
		"/v1/admin/users/u1/station":                   "/v1/admin/users/:id/station",
		"/v1/approve-request?token=abc&action=approve": "/v1/approve-request",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestSetLoggerCapturesJSON(t *testing.T) {
	var buf bytes.Buffer
	restore := SetLogger(NewLogger(&buf, zapcore.DebugLevel))
	defer restore()

	Logger().Info("hello", zap.String("k", "v"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "k"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in %v", key, entry)
		}
	}
}
