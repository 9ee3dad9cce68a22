// Package errors provides standardized error codes for the migrator host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (storage, persist,
//     consumer, review, agent, server)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by webview clients for programmatic
// error handling. Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error codes by domain.
// These are stable identifiers that webview clients can rely on for error handling.
const (
	// Storage domain - database and persistence errors
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Persist domain - durable slice persistence
	CodePersistDisposed     = "persist.disposed"      // Manager disposed, no further writes
	CodePersistEncodeFailed = "persist.encode_failed" // Failed to encode durable slice
	CodePersistDecodeFailed = "persist.decode_failed" // Stored blob could not be decoded

	// Consumer domain - outbound message delivery
	CodeConsumerDisposed   = "consumer.disposed"    // Consumer disposed, message dropped
	CodeConsumerSendFailed = "consumer.send_failed" // Underlying transport send failed

	// Review domain - pending file review decisions
	CodeReviewNotFound      = "review.not_found"      // No pending file for the given token
	CodeReviewInvalidAction = "review.invalid_action" // Action is not apply/reject

	// Agent domain - subprocess protocol client errors
	CodeAgentBinaryNotFound = "agent.binary_not_found" // Agent binary not found anywhere
	CodeAgentVersionTooLow  = "agent.version_too_low"  // Binary below minimum supported version
	CodeAgentSpawnFailed    = "agent.spawn_failed"     // Failed to spawn the agent process
	CodeAgentHandshakeError = "agent.handshake_failed" // Capability or session handshake failed
	CodeAgentTimeout        = "agent.timeout"          // Request not answered within its timeout
	CodeAgentDisposed       = "agent.disposed"         // Client disposed while request pending
	CodeAgentNotRunning     = "agent.not_running"      // Operation requires a running client
	CodeAgentBusy           = "agent.busy"             // A response is already in flight
	CodeAgentProtocolError  = "agent.protocol_error"   // JSON-RPC error response from the agent
	CodeAgentProcessExited  = "agent.process_exited"   // Agent process exited unexpectedly

	// Server domain - WebSocket bridge errors
	CodeServerUpgradeFailed  = "server.upgrade_failed"  // WebSocket upgrade failed
	CodeServerInvalidMessage = "server.invalid_message" // Malformed or invalid inbound message
	CodeServerRateLimited    = "server.rate_limited"    // Too many chat requests per second
	CodeServerAuthInvalid    = "server.auth_invalid"    // Invalid or missing access token

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal host error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "agent.timeout")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// BinaryNotFound creates an "agent.binary_not_found" error.
// The searched list tells the caller where an install would be picked up.
func BinaryNotFound(searched []string) *CodedError {
	return New(CodeAgentBinaryNotFound,
		fmt.Sprintf("agent binary not found (searched: %v) - install it or set agent.path in the config", searched))
}

// VersionTooLow creates an "agent.version_too_low" error.
// This indicates the installed agent binary is older than the minimum the
// host can speak to. The caller is expected to surface upgrade guidance.
func VersionTooLow(got, minimum string) *CodedError {
	return New(CodeAgentVersionTooLow,
		fmt.Sprintf("agent binary version %s is below minimum %s - upgrade the agent", got, minimum))
}

// SpawnFailed creates an "agent.spawn_failed" error.
func SpawnFailed(path string, cause error) *CodedError {
	return Wrap(CodeAgentSpawnFailed, fmt.Sprintf("failed to spawn agent process %s", path), cause)
}

// HandshakeFailed creates an "agent.handshake_failed" error.
func HandshakeFailed(step string, cause error) *CodedError {
	return Wrap(CodeAgentHandshakeError, fmt.Sprintf("agent handshake failed at %s", step), cause)
}

// RequestTimeout creates an "agent.timeout" error.
// The method and timeout let the caller distinguish which request expired.
func RequestTimeout(method string, timeout time.Duration) *CodedError {
	return New(CodeAgentTimeout, fmt.Sprintf("request %s timed out after %s", method, timeout))
}

// ClientDisposed creates an "agent.disposed" error for a pending request
// that was cut short by client teardown.
func ClientDisposed(method string) *CodedError {
	return New(CodeAgentDisposed, fmt.Sprintf("client disposed while %s was pending", method))
}

// AgentBusy creates an "agent.busy" error.
// This indicates a generation response is already in flight and a second
// send would misroute its streaming chunks.
func AgentBusy(currentID string) *CodedError {
	return New(CodeAgentBusy, fmt.Sprintf("a response is already in flight (id %s)", currentID))
}

// ProtocolError creates an "agent.protocol_error" error from a JSON-RPC
// error object returned by the agent.
func ProtocolError(method string, code int, message string) *CodedError {
	return New(CodeAgentProtocolError, fmt.Sprintf("%s failed: %s (code %d)", method, message, code))
}

// ProcessExited creates an "agent.process_exited" error for a non-requested
// agent process exit.
func ProcessExited(cause error) *CodedError {
	return Wrap(CodeAgentProcessExited, "agent process exited unexpectedly", cause)
}

// ReviewNotFound creates a "review.not_found" error.
func ReviewNotFound(token string) *CodedError {
	return New(CodeReviewNotFound, fmt.Sprintf("no pending review file for token %s", token))
}

// InvalidReviewAction creates a "review.invalid_action" error.
func InvalidReviewAction(action string) *CodedError {
	return New(CodeReviewInvalidAction, fmt.Sprintf("invalid action: %s (must be 'apply' or 'reject')", action))
}

// InvalidMessage creates a "server.invalid_message" error.
func InvalidMessage(reason string) *CodedError {
	return New(CodeServerInvalidMessage, reason)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
