package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ibolton336/migrator-host/internal/bridge"
)

// Client represents a single webview WebSocket connection. Each client has
// its own write goroutine, its own message consumer, and its own sync
// bridge, so a slow webview never blocks the store or other webviews.
type Client struct {
	// conn is the underlying WebSocket connection.
	conn *websocket.Conn

	// send is a buffered channel for outgoing messages. The write
	// goroutine reads from this and sends to the WebSocket. Buffering
	// prevents blocking when the client is slow.
	send chan any

	// done is closed to signal the client should shut down.
	done chan struct{}

	// sendOnce ensures the send channel is only closed once. Both Stop()
	// and readPump() may try to close it, so we use sync.Once to prevent
	// a "close of closed channel" panic.
	sendOnce sync.Once

	// server is a reference back to the parent server.
	server *Server

	// consumer queues sync messages until the webview reports ready.
	consumer *bridge.QueuedConsumer

	// bridge subscribes this connection to store changes.
	bridge *bridge.Bridge

	// chatLimiter rate-limits inbound agent-chat messages so a stuck
	// webview cannot hammer the agent.
	chatLimiter *rate.Limiter
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	c := &Client{
		conn:        conn,
		send:        make(chan any, channelBufferSize),
		done:        make(chan struct{}),
		server:      s,
		chatLimiter: rate.NewLimiter(s.chatRate, s.chatBurst),
	}
	c.consumer = bridge.NewQueuedConsumer(func(msg bridge.Message) error {
		return c.queue(msg)
	})
	c.bridge = bridge.New(s.store, c.consumer)
	c.bridge.Connect()
	return c
}

// queue puts one message on the send channel without blocking. A full
// buffer drops the message; the next full sync repairs any gap.
func (c *Client) queue(msg any) error {
	select {
	case <-c.done:
		return nil
	case c.send <- msg:
		return nil
	default:
		log.Printf("server: client send buffer full, dropping message")
		return nil
	}
}

// closeSend signals writePump to shut the connection down. Safe to call
// more than once.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

// writePump continuously sends messages from the send channel to the
// WebSocket. It also sends periodic pings to keep the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("server: failed to marshal message: %v", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("server: write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket and dispatches them by type.
// It also detects disconnects and tears the client down.
func (c *Client) readPump() {
	defer func() {
		c.bridge.Disconnect()
		c.consumer.Dispose()

		c.server.mu.Lock()
		delete(c.server.clients, c)
		c.server.mu.Unlock()

		c.closeSend()
		log.Printf("server: webview disconnected (%d remaining)", c.server.ClientCount())
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				log.Printf("server: read error: %v", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("server: failed to parse message: %v", err)
			continue
		}

		switch msg.Type {
		case MessageTypeWebviewReady:
			c.handleWebviewReady()
		case MessageTypeWebviewHidden:
			c.bridge.Pause()
		case MessageTypeWebviewVisible:
			c.bridge.Resume()
		case MessageTypeFileResponse:
			c.handleFileResponse(data)
		case MessageTypeBatchApply:
			c.handleBatchDecision(data, "apply")
		case MessageTypeBatchReject:
			c.handleBatchDecision(data, "reject")
		case MessageTypeAgentChat:
			c.handleAgentChat(data)
		case MessageTypeAgentStart:
			c.handleAgentStart()
		case MessageTypeAgentStop:
			c.handleAgentStop()
		case MessageTypeAgentCancel:
			c.handleAgentCancel()
		case MessageTypeAgentConfig:
			c.handleAgentConfig(data)
		default:
			log.Printf("server: unhandled message type %q", msg.Type)
		}
	}
}

// sendError reports a request failure to this client only.
func (c *Client) sendError(code, message string) {
	c.queue(errorMessage{Type: "error", Code: code, Message: message})
}
