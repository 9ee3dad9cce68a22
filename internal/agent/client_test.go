package agent

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	apperrors "github.com/ibolton336/migrator-host/internal/errors"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
		ok     bool
	}{
		{"bare triple", "1.18.2", "1.18.2", true},
		{"with binary name", "migrator-agent 1.18.2", "1.18.2", true},
		{"with v prefix", "v1.18.2 (linux/amd64)", "1.18.2", true},
		{"trailing newline", "1.16.0\n", "1.16.0", true},
		{"no version", "development build", "", false},
		{"empty", "", "", false},
		{"two components only", "1.18", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseVersion(tt.output)
			if ok != tt.ok {
				t.Fatalf("parseVersion(%q) ok = %v, want %v", tt.output, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("parseVersion(%q) = %q, want %q", tt.output, got, tt.want)
			}
		})
	}
}

func TestResolveBinaryConfiguredPath(t *testing.T) {
	path := writeFakeAgent(t, "#!/bin/sh\nexit 0\n")

	got, err := resolveBinary(path)
	if err != nil {
		t.Fatalf("resolveBinary failed: %v", err)
	}
	if got != path {
		t.Errorf("resolved path = %q, want %q", got, path)
	}
}

func TestResolveBinaryFromPATH(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, BinaryName)
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}
	t.Setenv("PATH", dir)

	got, err := resolveBinary("")
	if err != nil {
		t.Fatalf("resolveBinary failed: %v", err)
	}
	if got != script {
		t.Errorf("resolved path = %q, want %q", got, script)
	}
}

func TestResolveBinaryNotFound(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	_, err := resolveBinary("")
	if err == nil {
		t.Fatal("resolveBinary succeeded with no binary anywhere")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeAgentBinaryNotFound {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeAgentBinaryNotFound)
	}
}

func TestSendMessageRequiresRunning(t *testing.T) {
	c := NewClient(Config{}, Events{})

	_, err := c.SendMessage("m-1", "hello")
	if err == nil {
		t.Fatal("SendMessage succeeded on a stopped client")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeAgentNotRunning {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeAgentNotRunning)
	}
}

func TestSendMessageWhileInFlightReturnsBusy(t *testing.T) {
	c := NewClient(Config{}, Events{})
	c.mu.Lock()
	c.st = StateRunning
	c.conn = newRPCConn(io.Discard, nil)
	c.currentResponseID = "m-1"
	c.mu.Unlock()

	_, err := c.SendMessage("m-2", "second message")
	if err == nil {
		t.Fatal("second SendMessage succeeded while one was in flight")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeAgentBusy {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeAgentBusy)
	}
}

func TestSendMessageAfterDispose(t *testing.T) {
	c := NewClient(Config{}, Events{})
	c.Dispose()

	if _, err := c.SendMessage("m-1", "hello"); !apperrors.IsCode(err, apperrors.CodeAgentDisposed) {
		t.Errorf("error code = %q, want %q", apperrors.GetCode(err), apperrors.CodeAgentDisposed)
	}
	if got := c.State(); got != StateStopped {
		t.Errorf("state after dispose = %q, want %q", got, StateStopped)
	}
}

// fakeAgentScript speaks just enough of the protocol for lifecycle tests:
// version probe, handshake, one prompt turn with a streamed chunk.
const fakeAgentScript = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "migrator-agent 1.20.0"
  exit 0
fi
read line
printf '{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":1}}\n'
read line
printf '{"jsonrpc":"2.0","id":2,"result":{"sessionId":"sess-test"}}\n'
while read line; do
  printf '{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"sess-test","update":{"sessionUpdate":"agent_message_chunk","content":{"type":"text","text":"Hi"}}}}\n'
  printf '{"jsonrpc":"2.0","id":3,"result":{"stopReason":"end_turn"}}\n'
done
`

const oldAgentScript = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "1.10.0"
  exit 0
fi
cat >/dev/null
`

func writeFakeAgent(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake agent scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), BinaryName)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake agent: %v", err)
	}
	return path
}

func TestStartRejectsOldBinary(t *testing.T) {
	path := writeFakeAgent(t, oldAgentScript)

	var mu sync.Mutex
	var states []ClientState
	c := NewClient(Config{BinaryPath: path}, Events{
		OnStateChange: func(st ClientState) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		},
	})

	err := c.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded with a binary below the minimum version")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeAgentVersionTooLow {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeAgentVersionTooLow)
	}
	if got := c.State(); got != StateError {
		t.Errorf("state = %q, want %q", got, StateError)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != StateStarting || states[1] != StateError {
		t.Errorf("state transitions = %v, want [starting error]", states)
	}
}

func TestStartHandshakeAndPrompt(t *testing.T) {
	path := writeFakeAgent(t, fakeAgentScript)

	var mu sync.Mutex
	var chunks []string
	var completed []string
	c := NewClient(Config{BinaryPath: path, HandshakeTimeout: 5 * time.Second}, Events{
		OnChunk: func(responseID string, chunk ContentBlock) {
			mu.Lock()
			chunks = append(chunks, chunk.Text)
			mu.Unlock()
		},
		OnComplete: func(responseID, stopReason string) {
			mu.Lock()
			completed = append(completed, responseID+":"+stopReason)
			mu.Unlock()
		},
	})
	defer c.Dispose()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := c.State(); got != StateRunning {
		t.Fatalf("state = %q, want %q", got, StateRunning)
	}
	if got := c.sessionIDSnapshot(); got != "sess-test" {
		t.Errorf("session id = %q, want %q", got, "sess-test")
	}

	stopReason, err := c.SendMessage("m-1", "hello agent")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if stopReason != "end_turn" {
		t.Errorf("stopReason = %q, want %q", stopReason, "end_turn")
	}

	mu.Lock()
	if len(chunks) != 1 || chunks[0] != "Hi" {
		t.Errorf("chunks = %v, want [Hi]", chunks)
	}
	if len(completed) != 1 || completed[0] != "m-1:end_turn" {
		t.Errorf("completions = %v, want [m-1:end_turn]", completed)
	}
	mu.Unlock()

	c.Stop()
	if got := c.State(); got != StateStopped {
		t.Errorf("state after Stop = %q, want %q", got, StateStopped)
	}
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	c := NewClient(Config{}, Events{})
	c.Stop()
	c.Stop()
	if got := c.State(); got != StateStopped {
		t.Errorf("state = %q, want %q", got, StateStopped)
	}
}
