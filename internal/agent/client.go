// Package agent manages the migration agent subprocess: binary discovery,
// version gating, the JSON-RPC 2.0 stdio channel, and the lifecycle state
// machine around it. Streaming output and tool activity reach the rest of
// the host through the typed callbacks in Events.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/mod/semver"

	apperrors "github.com/ibolton336/migrator-host/internal/errors"
)

// ClientState is the lifecycle state of the protocol client.
type ClientState string

const (
	StateStopped  ClientState = "stopped"
	StateStarting ClientState = "starting"
	StateRunning  ClientState = "running"
	StateError    ClientState = "error"
)

// BinaryName is the agent executable searched for on PATH and in the
// conventional install locations when no explicit path is configured.
const BinaryName = "migrator-agent"

// MinimumVersion is the oldest agent the host can speak to.
const MinimumVersion = "1.16.0"

// Default timeouts. Handshake requests answer from a warm process and get a
// short window; generation requests cover a full model turn.
const (
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultGenerationTimeout = 5 * time.Minute
	DefaultForceKillTimeout  = 5 * time.Second
)

// Config controls how the client locates and runs the agent binary.
type Config struct {
	// BinaryPath, when non-empty, is tried first and must exist.
	BinaryPath string

	// Args are passed to the agent on spawn (not to the version probe).
	Args []string

	// WorkingDir is the session working directory sent in session/new.
	// Empty means the host process working directory.
	WorkingDir string

	// Env entries are appended to the host environment for the subprocess.
	Env []string

	HandshakeTimeout  time.Duration
	GenerationTimeout time.Duration
	ForceKillTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = DefaultGenerationTimeout
	}
	if c.ForceKillTimeout <= 0 {
		c.ForceKillTimeout = DefaultForceKillTimeout
	}
}

// Events holds the typed callbacks the client emits. Any field may be nil.
// Callbacks run on the client's reader or lifecycle goroutines; they must
// not call back into the client synchronously with work that blocks.
type Events struct {
	// OnStateChange fires on every lifecycle transition.
	OnStateChange func(state ClientState)

	// OnChunk delivers one streamed content block for the response
	// identified by responseID.
	OnChunk func(responseID string, chunk ContentBlock)

	// OnComplete fires when a generation settles normally, with the
	// agent's stop reason.
	OnComplete func(responseID string, stopReason string)

	// OnToolCall and OnToolCallUpdate surface tool activity.
	OnToolCall       func(call ToolCall)
	OnToolCallUpdate func(call ToolCall)

	// OnError reports lifecycle failures (spawn, handshake, unexpected
	// exit). Per-request failures are returned from the calling method
	// instead.
	OnError func(err error)
}

// Client runs and talks to one agent subprocess. All exported methods are
// safe for concurrent use.
type Client struct {
	cfg    Config
	events Events

	mu                sync.Mutex
	st                ClientState
	disposed          bool
	stopRequested     bool
	cmd               *exec.Cmd
	conn              *rpcConn
	exited            chan struct{}
	sessionID         string
	currentResponseID string
}

// NewClient creates a client in the stopped state. Nothing is spawned
// until Start.
func NewClient(cfg Config, events Events) *Client {
	cfg.applyDefaults()
	return &Client{cfg: cfg, events: events, st: StateStopped}
}

// State returns the current lifecycle state.
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// Start resolves the agent binary, verifies its version, spawns it and runs
// the two-step handshake. On success the client is running; any failure
// transitions to error and returns the cause. Start from error retries from
// scratch.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return apperrors.ClientDisposed("start")
	}
	if c.st == StateStarting || c.st == StateRunning {
		c.mu.Unlock()
		return apperrors.New(apperrors.CodeAgentBusy, "client is already "+string(c.st))
	}
	leftover := c.cmd != nil
	c.mu.Unlock()
	if leftover {
		// A failed handshake leaves the process up for cleanup. Reap it
		// before retrying.
		c.Stop()
	}

	c.mu.Lock()
	c.stopRequested = false
	c.mu.Unlock()
	c.setState(StateStarting)

	path, err := resolveBinary(c.cfg.BinaryPath)
	if err != nil {
		return c.failStart(err)
	}
	log.Printf("agent: using binary %s", path)

	if got, ok := probeVersion(ctx, path); !ok {
		log.Printf("agent: could not determine binary version, continuing anyway")
	} else if semver.Compare("v"+got, "v"+MinimumVersion) < 0 {
		return c.failStart(apperrors.VersionTooLow(got, MinimumVersion))
	} else {
		log.Printf("agent: binary version %s (minimum %s)", got, MinimumVersion)
	}

	cmd := exec.Command(path, c.cfg.Args...)
	cmd.Dir = c.cfg.WorkingDir
	if len(c.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), c.cfg.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return c.failStart(apperrors.SpawnFailed(path, err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return c.failStart(apperrors.SpawnFailed(path, err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return c.failStart(apperrors.SpawnFailed(path, err))
	}
	if err := cmd.Start(); err != nil {
		return c.failStart(apperrors.SpawnFailed(path, err))
	}

	conn := newRPCConn(stdin, c.handleNotification)
	exited := make(chan struct{})

	c.mu.Lock()
	c.cmd = cmd
	c.conn = conn
	c.exited = exited
	c.mu.Unlock()

	// Agent stderr is diagnostics, not protocol. Relay it to our log.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("agent: [stderr] %s", scanner.Text())
		}
	}()
	go conn.readLoop(stdout)
	go c.waitExit(cmd, exited)

	if err := c.handshake(conn); err != nil {
		// The process stays up so Stop can clean it; only the state flips.
		return c.failStart(err)
	}

	c.setState(StateRunning)
	log.Printf("agent: running (session %s)", c.sessionIDSnapshot())
	return nil
}

// handshake performs initialize then session/new, recording the session id.
func (c *Client) handshake(conn *rpcConn) error {
	raw, err := conn.call(methodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo{Name: "migrator-host", Version: "1.0"},
	}, c.cfg.HandshakeTimeout)
	if err != nil {
		return apperrors.HandshakeFailed(methodInitialize, err)
	}
	var initRes initializeResult
	if err := json.Unmarshal(raw, &initRes); err != nil {
		return apperrors.HandshakeFailed(methodInitialize, err)
	}

	cwd := c.cfg.WorkingDir
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	raw, err = conn.call(methodNewSession, newSessionParams{Cwd: cwd}, c.cfg.HandshakeTimeout)
	if err != nil {
		return apperrors.HandshakeFailed(methodNewSession, err)
	}
	var sessRes newSessionResult
	if err := json.Unmarshal(raw, &sessRes); err != nil {
		return apperrors.HandshakeFailed(methodNewSession, err)
	}

	c.mu.Lock()
	c.sessionID = sessRes.SessionID
	c.mu.Unlock()
	return nil
}

// failStart transitions to error and emits the cause.
func (c *Client) failStart(err error) error {
	c.setState(StateError)
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
	return err
}

// waitExit reaps the process and handles a non-requested exit: reject
// everything pending, flip to error, emit one error event. A stop-requested
// exit is the graceful path and stays quiet.
func (c *Client) waitExit(cmd *exec.Cmd, exited chan struct{}) {
	waitErr := cmd.Wait()
	close(exited)

	c.mu.Lock()
	requested := c.stopRequested
	conn := c.conn
	running := c.st == StateRunning || c.st == StateStarting
	c.mu.Unlock()

	if requested || !running {
		return
	}

	cause := apperrors.ProcessExited(waitErr)
	if conn != nil {
		conn.failAll(func(method string) error {
			return apperrors.Wrap(apperrors.CodeAgentProcessExited, method+" interrupted by agent exit", waitErr)
		})
	}
	log.Printf("agent: %v", cause)
	c.setState(StateError)
	if c.events.OnError != nil {
		c.events.OnError(cause)
	}
}

// SendMessage sends one user message into the active session and blocks
// until the agent finishes the turn, returning the stop reason. Streaming
// output arrives through Events.OnChunk while this call is in flight.
// Only one response may be in flight; a concurrent call fails with an
// agent.busy error.
func (c *Client) SendMessage(responseID, content string) (string, error) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return "", apperrors.ClientDisposed(methodPrompt)
	}
	if c.st != StateRunning {
		c.mu.Unlock()
		return "", apperrors.New(apperrors.CodeAgentNotRunning, "cannot send: client is "+string(c.st))
	}
	if c.currentResponseID != "" {
		inFlight := c.currentResponseID
		c.mu.Unlock()
		return "", apperrors.AgentBusy(inFlight)
	}
	c.currentResponseID = responseID
	conn := c.conn
	sessionID := c.sessionID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.currentResponseID == responseID {
			c.currentResponseID = ""
		}
		c.mu.Unlock()
	}()

	raw, err := conn.call(methodPrompt, promptParams{
		SessionID: sessionID,
		Prompt:    []ContentBlock{{Type: "text", Text: content}},
	}, c.cfg.GenerationTimeout)
	if err != nil {
		return "", err
	}
	var res promptResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", apperrors.Wrap(apperrors.CodeAgentProtocolError, "decode prompt result", err)
	}

	if c.events.OnComplete != nil {
		c.events.OnComplete(responseID, res.StopReason)
	}
	return res.StopReason, nil
}

// CancelGeneration sends a fire-and-forget cancellation for the current
// session. It does not wait for acknowledgement and does not change client
// state; the in-flight SendMessage still settles normally or times out.
func (c *Client) CancelGeneration() {
	c.mu.Lock()
	conn := c.conn
	sessionID := c.sessionID
	running := c.st == StateRunning
	c.mu.Unlock()

	if !running || conn == nil {
		return
	}
	if err := conn.notify(notifyCancel, cancelParams{SessionID: sessionID}); err != nil {
		log.Printf("agent: cancel notification failed: %v", err)
	}
}

// Stop rejects all pending requests, signals the process to terminate, and
// races its graceful exit against the force-kill timeout. Safe to call in
// any state.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopRequested = true
	cmd := c.cmd
	conn := c.conn
	exited := c.exited
	c.cmd = nil
	c.conn = nil
	c.exited = nil
	c.sessionID = ""
	c.currentResponseID = ""
	c.mu.Unlock()

	if conn != nil {
		conn.failAll(func(method string) error {
			return apperrors.ClientDisposed(method)
		})
	}

	if cmd != nil && cmd.Process != nil {
		log.Printf("agent: stopping process %d", cmd.Process.Pid)
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			log.Printf("agent: SIGTERM failed: %v", err)
		}
		select {
		case <-exited:
		case <-time.After(c.cfg.ForceKillTimeout):
			log.Printf("agent: process did not exit in %s, killing", c.cfg.ForceKillTimeout)
			_ = cmd.Process.Kill()
			<-exited
		}
	}

	c.setState(StateStopped)
}

// Dispose permanently tears the client down. Idempotent; subsequent sends
// and starts fail fast with a disposed error.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.mu.Unlock()
	c.Stop()
}

// handleNotification dispatches server-initiated notifications by method.
func (c *Client) handleNotification(method string, params json.RawMessage) {
	if method != notifySessionUpdate {
		log.Printf("agent: unhandled notification %s", method)
		return
	}

	var upd sessionUpdateParams
	if err := json.Unmarshal(params, &upd); err != nil {
		log.Printf("agent: bad session/update payload: %v", err)
		return
	}

	switch upd.Update.SessionUpdate {
	case updateMessageChunk, updateThoughtChunk:
		if upd.Update.Content == nil {
			return
		}
		if c.events.OnChunk != nil {
			c.events.OnChunk(c.currentResponseIDSnapshot(), *upd.Update.Content)
		}
	case updateToolCall:
		if c.events.OnToolCall != nil {
			c.events.OnToolCall(toolCallOf(upd.Update))
		}
	case updateToolCallUpdate:
		if c.events.OnToolCallUpdate != nil {
			c.events.OnToolCallUpdate(toolCallOf(upd.Update))
		}
	default:
		log.Printf("agent: unhandled session update %q", upd.Update.SessionUpdate)
	}
}

func toolCallOf(u sessionUpdate) ToolCall {
	return ToolCall{ID: u.ToolCallID, Title: u.Title, Status: u.Status, RawOutput: u.RawOutput}
}

func (c *Client) setState(st ClientState) {
	c.mu.Lock()
	if c.st == st {
		c.mu.Unlock()
		return
	}
	c.st = st
	c.mu.Unlock()
	if c.events.OnStateChange != nil {
		c.events.OnStateChange(st)
	}
}

func (c *Client) sessionIDSnapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) currentResponseIDSnapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentResponseID
}

// resolveBinary finds the agent executable: the configured path if set,
// then PATH, then the conventional install locations for the platform.
// First existing executable wins.
func resolveBinary(configured string) (string, error) {
	var searched []string

	if configured != "" {
		if isExecutable(configured) {
			return configured, nil
		}
		searched = append(searched, configured)
	}

	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}
	searched = append(searched, "$PATH")

	for _, dir := range conventionalDirs() {
		candidate := filepath.Join(dir, binaryFileName())
		if isExecutable(candidate) {
			return candidate, nil
		}
		searched = append(searched, candidate)
	}

	return "", apperrors.BinaryNotFound(searched)
}

func conventionalDirs() []string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		return []string{
			filepath.Join(os.Getenv("LOCALAPPDATA"), "migrator"),
			filepath.Join(os.Getenv("PROGRAMFILES"), "migrator"),
		}
	case "darwin":
		return []string{
			"/usr/local/bin",
			"/opt/homebrew/bin",
			filepath.Join(home, ".local", "bin"),
		}
	default:
		return []string{
			"/usr/local/bin",
			filepath.Join(home, ".local", "bin"),
		}
	}
}

func binaryFileName() string {
	if runtime.GOOS == "windows" {
		return BinaryName + ".exe"
	}
	return BinaryName
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// probeVersion runs the binary with --version and extracts a semantic
// version triple from its output. ok is false when the probe fails or the
// output has no recognizable version; the caller treats that as a warning,
// not an error.
func probeVersion(ctx context.Context, path string) (version string, ok bool) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(probeCtx, path, "--version").Output()
	if err != nil {
		return "", false
	}
	return parseVersion(string(out))
}

// parseVersion extracts the first semantic-version triple from raw probe
// output like "migrator-agent 1.18.2" or "v1.18.2 (linux/amd64)".
func parseVersion(output string) (string, bool) {
	match := versionPattern.FindString(strings.TrimSpace(output))
	if match == "" || !semver.IsValid("v"+match) {
		return "", false
	}
	return match, true
}
