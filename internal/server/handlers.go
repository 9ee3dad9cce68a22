package server

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ibolton336/migrator-host/internal/errors"
	"github.com/ibolton336/migrator-host/internal/review"
	"github.com/ibolton336/migrator-host/internal/state"
)

// handleWebviewReady marks this connection's consumer ready and pushes a
// full state snapshot. Ordering matters: Flush drains everything queued
// before readiness first, then SyncAll sends the fresh snapshot directly,
// so the newest projection of every slice is also the last one delivered.
func (c *Client) handleWebviewReady() {
	c.consumer.SetReady()
	c.consumer.Flush()
	c.bridge.SyncAll()
	log.Printf("server: webview ready, synced full state")
}

// handleFileResponse processes a single apply/reject decision for one
// pending review file.
func (c *Client) handleFileResponse(data []byte) {
	var msg fileDecision
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(apperrors.CodeServerInvalidMessage, "malformed file-response payload")
		return
	}

	if err := c.server.reviews.ProcessDecision(review.Decision{
		Token:   msg.MessageToken,
		Action:  msg.Action,
		Content: msg.Content,
	}); err != nil {
		code, message := apperrors.ToCodeAndMessage(err)
		c.queue(resultMessage{
			Type:         "file-response-result",
			MessageToken: msg.MessageToken,
			Success:      false,
			ErrorCode:    code,
			ErrorMessage: message,
		})
		return
	}
	c.queue(resultMessage{
		Type:         "file-response-result",
		MessageToken: msg.MessageToken,
		Success:      true,
	})
}

// handleBatchDecision applies one action to every file named in the batch.
// Files are processed independently: one failure does not abort the rest.
func (c *Client) handleBatchDecision(data []byte, action string) {
	var msg batchDecision
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(apperrors.CodeServerInvalidMessage, "malformed batch payload")
		return
	}

	for _, file := range msg.Files {
		if err := c.server.reviews.ProcessDecision(review.Decision{
			Token:   file.MessageToken,
			Action:  action,
			Content: file.Content,
		}); err != nil {
			code, message := apperrors.ToCodeAndMessage(err)
			c.queue(resultMessage{
				Type:         "file-response-result",
				MessageToken: file.MessageToken,
				Success:      false,
				ErrorCode:    code,
				ErrorMessage: message,
			})
			continue
		}
		c.queue(resultMessage{
			Type:         "file-response-result",
			MessageToken: file.MessageToken,
			Success:      true,
		})
	}
}

// handleAgentChat records the user message in the transcript and forwards
// it to the agent. The agent call runs in a goroutine because a generation
// can take minutes and readPump must keep servicing the connection.
func (c *Client) handleAgentChat(data []byte) {
	if c.server.agent == nil {
		c.sendError(apperrors.CodeAgentNotRunning, "no agent is configured")
		return
	}
	if !c.chatLimiter.Allow() {
		c.sendError(apperrors.CodeServerRateLimited, "too many chat messages, slow down")
		return
	}

	var msg agentChat
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(apperrors.CodeServerInvalidMessage, "malformed agent-chat payload")
		return
	}
	if strings.TrimSpace(msg.Content) == "" {
		c.sendError(apperrors.CodeServerInvalidMessage, "chat message is empty")
		return
	}

	token := msg.MessageToken
	if token == "" {
		token = uuid.NewString()
	}

	c.server.store.AppendChatMessage(state.ChatMessage{
		Token:     token,
		Kind:      "user",
		Content:   msg.Content,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})

	go func() {
		if _, err := c.server.agent.SendMessage(token, msg.Content); err != nil {
			code, message := apperrors.ToCodeAndMessage(err)
			log.Printf("server: agent chat failed: %s: %s", code, message)
			c.sendError(code, message)
		}
	}()
}

func (c *Client) handleAgentStart() {
	if c.server.agent == nil {
		c.sendError(apperrors.CodeAgentNotRunning, "no agent is configured")
		return
	}
	go func() {
		if err := c.server.agent.Start(context.Background()); err != nil {
			code, message := apperrors.ToCodeAndMessage(err)
			log.Printf("server: agent start failed: %s: %s", code, message)
			c.sendError(code, message)
		}
	}()
}

func (c *Client) handleAgentStop() {
	if c.server.agent == nil {
		c.sendError(apperrors.CodeAgentNotRunning, "no agent is configured")
		return
	}
	go c.server.agent.Stop()
}

func (c *Client) handleAgentCancel() {
	if c.server.agent == nil {
		c.sendError(apperrors.CodeAgentNotRunning, "no agent is configured")
		return
	}
	c.server.agent.CancelGeneration()
}

// handleAgentConfig applies partial settings updates from the webview.
// Only fields present in the payload change; absent fields keep their
// current values.
func (c *Client) handleAgentConfig(data []byte) {
	var msg agentConfig
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(apperrors.CodeServerInvalidMessage, "malformed agent-config payload")
		return
	}

	c.server.store.UpdateSettings(func(s *state.SettingsSlice) {
		if msg.IsAgentMode != nil {
			s.IsAgentMode = *msg.IsAgentMode
		}
		if msg.SolutionServerEnabled != nil {
			s.SolutionServerEnabled = *msg.SolutionServerEnabled
		}
		if msg.ProfileSyncEnabled != nil {
			s.ProfileSyncEnabled = *msg.ProfileSyncEnabled
		}
		if msg.HubURL != nil {
			if *msg.HubURL == "" {
				s.HubConfig = nil
			} else {
				insecure := false
				if msg.HubInsecure != nil {
					insecure = *msg.HubInsecure
				} else if s.HubConfig != nil {
					insecure = s.HubConfig.Insecure
				}
				s.HubConfig = &state.HubConfig{URL: *msg.HubURL, Insecure: insecure}
			}
		} else if msg.HubInsecure != nil && s.HubConfig != nil {
			s.HubConfig = &state.HubConfig{URL: s.HubConfig.URL, Insecure: *msg.HubInsecure}
		}
	})
}
