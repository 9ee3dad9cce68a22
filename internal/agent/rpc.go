package agent

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/ibolton336/migrator-host/internal/errors"
)

// pendingCall tracks one in-flight request. Exactly one of the response
// dispatcher, the timeout timer, or failAll settles it; whichever fires
// first removes the entry from the pending map, which is what makes the
// three mutually exclusive.
type pendingCall struct {
	method string
	ch     chan callResult
	timer  *time.Timer
}

type callResult struct {
	result json.RawMessage
	err    error
}

// rpcConn speaks newline-delimited JSON-RPC 2.0 over a byte stream pair.
// It owns request-id allocation, response correlation and per-request
// timeouts; notifications are handed to onNotify in arrival order.
//
// The writer is the single point of outbound writes: every marshaled
// document is written whole, under writeMu, so the newline framing stays
// valid no matter how many goroutines issue requests.
type rpcConn struct {
	w        io.Writer
	onNotify func(method string, params json.RawMessage)

	writeMu sync.Mutex
	nextID  atomic.Int64

	pendMu  sync.Mutex
	pending map[int64]*pendingCall
}

func newRPCConn(w io.Writer, onNotify func(method string, params json.RawMessage)) *rpcConn {
	return &rpcConn{
		w:        w,
		onNotify: onNotify,
		pending:  make(map[int64]*pendingCall),
	}
}

// call sends one request and blocks until the matching response arrives,
// the timeout fires, or failAll rejects everything. The pending entry is
// registered before the write hits the wire so a fast response cannot race
// past its own waiter.
func (c *rpcConn) call(method string, params any, timeout time.Duration) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	payload, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, apperrors.Internal("encode "+method+" request", err)
	}

	call := &pendingCall{method: method, ch: make(chan callResult, 1)}
	call.timer = time.AfterFunc(timeout, func() {
		c.settle(id, callResult{err: apperrors.RequestTimeout(method, timeout)})
	})
	c.pendMu.Lock()
	c.pending[id] = call
	c.pendMu.Unlock()

	if err := c.write(payload); err != nil {
		c.settle(id, callResult{err: err})
	}

	res := <-call.ch
	return res.result, res.err
}

// notify sends a fire-and-forget notification.
func (c *rpcConn) notify(method string, params any) error {
	payload, err := json.Marshal(notification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return apperrors.Internal("encode "+method+" notification", err)
	}
	return c.write(payload)
}

func (c *rpcConn) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(append(payload, '\n')); err != nil {
		return apperrors.Wrap(apperrors.CodeAgentProcessExited, "write to agent stdin", err)
	}
	return nil
}

// settle resolves one pending call and removes it from the map. A second
// settle for the same id is a no-op, which is how a late response after a
// timeout gets dropped.
func (c *rpcConn) settle(id int64, res callResult) {
	c.pendMu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendMu.Unlock()
	if !ok {
		return
	}
	call.timer.Stop()
	call.ch <- res
}

// failAll rejects every pending call with errFor(method). Used on process
// exit and on dispose.
func (c *rpcConn) failAll(errFor func(method string) error) {
	c.pendMu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingCall)
	c.pendMu.Unlock()

	for _, call := range pending {
		call.timer.Stop()
		call.ch <- callResult{err: errFor(call.method)}
	}
}

// readLoop parses newline-delimited JSON documents from r until it fails,
// then rejects everything still pending and returns the read error. A
// partial trailing line is buffered by the bufio reader until its newline
// arrives, so responses split across stdout chunks reassemble correctly.
func (c *rpcConn) readLoop(r io.Reader) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			c.failAll(func(method string) error {
				return apperrors.Wrap(apperrors.CodeAgentProcessExited, method+" interrupted by agent exit", err)
			})
			return err
		}
		c.handleLine(line)
	}
}

func (c *rpcConn) handleLine(line []byte) {
	trimmed := trimLine(line)
	if len(trimmed) == 0 {
		return
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		// One bad line never takes the connection down.
		log.Printf("agent: skipping malformed line from agent: %v", err)
		return
	}

	if env.ID != nil {
		c.pendMu.Lock()
		call, known := c.pending[*env.ID]
		c.pendMu.Unlock()
		if !known {
			// Response for a request that already timed out. Drop it.
			return
		}
		if env.Error != nil {
			c.settle(*env.ID, callResult{err: apperrors.ProtocolError(call.method, env.Error.Code, env.Error.Message)})
		} else {
			c.settle(*env.ID, callResult{result: env.Result})
		}
		return
	}

	if env.Method != "" && c.onNotify != nil {
		c.onNotify(env.Method, env.Params)
		return
	}

	log.Printf("agent: dropping line with neither id nor method")
}

func trimLine(line []byte) []byte {
	for len(line) > 0 {
		switch line[len(line)-1] {
		case '\n', '\r', ' ', '\t':
			line = line[:len(line)-1]
		default:
			return line
		}
	}
	return line
}
