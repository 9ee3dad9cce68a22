package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ibolton336/migrator-host/internal/agent"
	"github.com/ibolton336/migrator-host/internal/config"
	apperrors "github.com/ibolton336/migrator-host/internal/errors"
	"github.com/ibolton336/migrator-host/internal/persist"
	"github.com/ibolton336/migrator-host/internal/server"
	"github.com/ibolton336/migrator-host/internal/state"
	"github.com/ibolton336/migrator-host/internal/storage"
)

// runInit implements "migrator-host init": write a default config file so
// users have something to edit before the first start.
func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	workspace := fs.String("workspace", "", "Workspace root to record in the config (default: current directory)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	ws := *workspace
	if ws == "" {
		var err error
		ws, err = os.Getwd()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to get current directory: %v\n", err)
			return 1
		}
	}

	path, err := config.DefaultConfigPath()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to determine config path: %v\n", err)
		return 1
	}
	if err := config.WriteDefault(path, ws); err != nil {
		fmt.Fprintf(stderr, "Error: failed to write config: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote config: %s\n", path)
	return 0
}

// runStart implements "migrator-host start". It assembles the whole host:
// durable storage, the state store hydrated from it, the agent subprocess
// client wired into the transcript, and the WebSocket server the webview
// connects to.
func runStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath  = fs.String("config", "", "Path to config file (default: ~/.migrator/config.toml)")
		workspace   = fs.String("workspace", "", "Workspace root the agent migrates (default: current directory)")
		addr        = fs.String("addr", "", "Listen address for the webview WebSocket server (default: 127.0.0.1:7171)")
		dbPath      = fs.String("db", "", "Path to the state database (default: ~/.migrator/migrator.db)")
		agentPath   = fs.String("agent-path", "", "Explicit path to the agent binary (default: search PATH)")
		requireAuth = fs.Bool("require-auth", false, "Require a bearer token on WebSocket connections")
	)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: migrator-host start [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Track explicitly-set flags so a CLI boolean can override the config
	// file in either direction.
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	fileCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// CLI flags win over file values.
	ws := *workspace
	if ws == "" {
		ws = fileCfg.Workspace
	}
	if ws == "" {
		ws, err = os.Getwd()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to get current directory: %v\n", err)
			return 1
		}
	}
	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = fileCfg.Addr
	}
	if listenAddr == "" {
		listenAddr = config.DefaultAddr
	}
	db := *dbPath
	if db == "" {
		db = fileCfg.DBPath
	}
	if db == "" {
		db, err = config.DefaultDBPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to determine database path: %v\n", err)
			return 1
		}
	}
	binPath := *agentPath
	if binPath == "" {
		binPath = fileCfg.AgentPath
	}
	auth := *requireAuth
	if !explicit["require-auth"] {
		auth = fileCfg.RequireAuth
	}

	// Durable storage and the state store.
	kv, err := storage.Open(db)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open state database: %v\n", err)
		return 1
	}
	defer kv.Close()

	store := state.NewStore(state.State{ServerState: "stopped"})

	debounce := persist.DefaultDebounce
	if fileCfg.PersistDebounceMs > 0 {
		debounce = time.Duration(fileCfg.PersistDebounceMs) * time.Millisecond
	}
	persister := persist.NewManager(store, kv, debounce)
	persister.Hydrate()
	persister.Watch()

	// Agent subprocess client, with its streamed output feeding the chat
	// transcript. The bridge picks every append up from there and turns
	// it into webview updates.
	agentClient := agent.NewClient(agent.Config{
		BinaryPath:        binPath,
		Args:              fileCfg.AgentArgs,
		WorkingDir:        ws,
		HandshakeTimeout:  time.Duration(fileCfg.AgentHandshakeTimeoutMs) * time.Millisecond,
		GenerationTimeout: time.Duration(fileCfg.AgentGenerationTimeoutMs) * time.Millisecond,
		ForceKillTimeout:  time.Duration(fileCfg.AgentForceKillTimeoutMs) * time.Millisecond,
	}, agent.Events{
		OnStateChange: func(st agent.ClientState) {
			store.UpdateServer(func(sv *state.ServerSlice) {
				sv.ServerState = string(st)
				sv.IsStartingServer = st == agent.StateStarting
			})
		},
		OnChunk: func(responseID string, chunk agent.ContentBlock) {
			if chunk.Type != "text" || chunk.Text == "" {
				return
			}
			appendAgentChunk(store, responseID, chunk.Text)
		},
		OnComplete: func(responseID, stopReason string) {
			log.Printf("host: generation %s finished: %s", responseID, stopReason)
		},
		OnToolCall: func(call agent.ToolCall) {
			store.AppendChatMessage(state.ChatMessage{
				Token:     call.ID,
				Kind:      "tool",
				Content:   call.Title,
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			})
		},
		OnError: func(err error) {
			code, message := apperrors.ToCodeAndMessage(err)
			log.Printf("host: agent error: %s: %s", code, message)
			store.UpdateConfigErrors(func(ce *state.ConfigErrorsSlice) {
				ce.ConfigErrors = append(ce.ConfigErrors[:len(ce.ConfigErrors):len(ce.ConfigErrors)],
					state.ConfigError{Type: code, Message: message})
			})
		},
	})

	srv, err := server.NewServer(server.Options{
		Addr:           listenAddr,
		Store:          store,
		Agent:          agentClient,
		Workspace:      ws,
		Audit:          kv,
		RequireAuth:    auth,
		AccessToken:    fileCfg.AccessToken,
		ChatRatePerSec: fileCfg.ChatRatePerSec,
		ChatRateBurst:  fileCfg.ChatRateBurst,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := <-srv.StartAsync(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "migrator-host listening on %s (workspace: %s)\n", srv.Addr(), ws)

	// Start the agent eagerly; a failure is not fatal, the webview can
	// retry with agent-start once the binary is installed.
	go func() {
		if err := agentClient.Start(context.Background()); err != nil {
			code, message := apperrors.ToCodeAndMessage(err)
			log.Printf("host: agent did not start: %s: %s", code, message)
		}
	}()

	// Block until a shutdown signal, then tear down in dependency order:
	// no new webview traffic, then the agent subprocess, then the persist
	// timers, and the database last so final writes land.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)

	srv.Stop()
	agentClient.Dispose()
	persister.Dispose()
	return 0
}

// appendAgentChunk grows the transcript with one streamed chunk. The first
// chunk of a response creates the agent message; later chunks append to it
// in place, which the bridge classifies as streaming updates.
func appendAgentChunk(store *state.Store, responseID, text string) {
	st := store.GetState()
	n := len(st.ChatMessages)
	if n > 0 && st.ChatMessages[n-1].Token == responseID && st.ChatMessages[n-1].Kind == "agent" {
		store.AppendToLastChatMessage(text)
		return
	}
	store.AppendChatMessage(state.ChatMessage{
		Token:     responseID,
		Kind:      "agent",
		Content:   text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}
