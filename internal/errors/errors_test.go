package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// TestCodedErrorMessage verifies the formatted message with and without a cause.
func TestCodedErrorMessage(t *testing.T) {
	plain := New(CodeAgentTimeout, "request timed out")
	if got, want := plain.Error(), "agent.timeout: request timed out"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	wrapped := Wrap(CodeAgentSpawnFailed, "spawn failed", errors.New("no such file"))
	if !strings.Contains(wrapped.Error(), "no such file") {
		t.Errorf("Error() = %q, want cause included", wrapped.Error())
	}
}

// TestUnwrap verifies errors.Is works through CodedError.
func TestUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(CodeStorageOpenFailed, "open failed", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

// TestGetCode verifies code extraction from coded and plain errors.
func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"coded", New(CodeAgentBusy, "busy"), CodeAgentBusy},
		{"wrapped coded", fmt.Errorf("context: %w", New(CodeReviewNotFound, "gone")), CodeReviewNotFound},
		{"plain", errors.New("plain"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestToCodeAndMessage verifies both parts are extracted for client responses.
func TestToCodeAndMessage(t *testing.T) {
	code, msg := ToCodeAndMessage(New(CodeAgentVersionTooLow, "upgrade required"))
	if code != CodeAgentVersionTooLow {
		t.Errorf("code = %q, want %q", code, CodeAgentVersionTooLow)
	}
	if msg != "upgrade required" {
		t.Errorf("message = %q, want %q", msg, "upgrade required")
	}

	code, msg = ToCodeAndMessage(errors.New("boom"))
	if code != CodeUnknown {
		t.Errorf("code = %q, want %q", code, CodeUnknown)
	}
	if msg != "boom" {
		t.Errorf("message = %q, want %q", msg, "boom")
	}
}

// TestConstructors verifies the domain constructors carry the right codes
// and enough detail for the caller to act on.
func TestConstructors(t *testing.T) {
	if err := RequestTimeout("session/prompt", 5*time.Minute); !IsCode(err, CodeAgentTimeout) {
		t.Errorf("RequestTimeout code = %q", GetCode(err))
	}
	if err := VersionTooLow("1.10.0", "1.16.0"); !strings.Contains(err.Message, "1.16.0") {
		t.Errorf("VersionTooLow message = %q, want minimum version included", err.Message)
	}
	if err := BinaryNotFound([]string{"/usr/local/bin/kai"}); !strings.Contains(err.Message, "/usr/local/bin/kai") {
		t.Errorf("BinaryNotFound message = %q, want searched path included", err.Message)
	}
	if err := AgentBusy("m-7"); !IsCode(err, CodeAgentBusy) {
		t.Errorf("AgentBusy code = %q", GetCode(err))
	}
}
