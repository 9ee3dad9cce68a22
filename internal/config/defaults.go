package config

// DefaultAddr is the default listen address for the WebSocket server.
const DefaultAddr = "127.0.0.1:7171"

// DefaultWorkspace falls back to the current working directory.
const DefaultWorkspace = "."
