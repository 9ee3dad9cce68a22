package bridge

import (
	"sync"
	"time"

	"github.com/ibolton336/migrator-host/internal/state"
)

// Binding pairs a slice selector with an outbound message type. Bindings are
// constructed once at bridge setup and immutable afterwards.
type Binding struct {
	// Name identifies the binding, used as the coalescing key while paused.
	Name string

	// MessageType is the outbound message type emitted for this binding.
	MessageType string

	// Project runs the slice selector against a snapshot.
	Project func(s state.State) any

	// Equal is the shallow comparator for two projections of this binding.
	Equal func(prev, next any) bool

	// Normalize optionally adjusts the payload for the wire (nil slice to
	// empty array, nil map to empty object). Never applied to the stored
	// previous projection, only to the outgoing copy.
	Normalize func(payload any) any
}

// NewBinding builds a Binding from a typed selector. The projection type's
// Equal method provides the shallow comparison.
func NewBinding[P interface{ Equal(P) bool }](name, messageType string, project func(state.State) P) Binding {
	return Binding{
		Name:        name,
		MessageType: messageType,
		Project:     func(s state.State) any { return project(s) },
		Equal:       func(prev, next any) bool { return prev.(P).Equal(next.(P)) },
	}
}

// StandardBindings returns the full set of generic (non-chat) bindings, one
// per synced slice. The chat transcript is handled separately by the bridge
// because its change classification is not boolean (see connectChat).
func StandardBindings() []Binding {
	workflow := NewBinding("solutionWorkflow", MessageTypeSolutionWorkflow, state.SelectSolutionWorkflow)
	workflow.Normalize = func(payload any) any {
		return normalizeWorkflow(payload.(state.SolutionWorkflowSlice))
	}
	decorators := NewBinding("decorators", MessageTypeDecorators, state.SelectDecorators)
	decorators.Normalize = func(payload any) any {
		return normalizeDecorators(payload.(state.DecoratorsSlice))
	}

	return []Binding{
		NewBinding("analysis", MessageTypeAnalysisState, state.SelectAnalysis),
		workflow,
		NewBinding("server", MessageTypeServerState, state.SelectServer),
		NewBinding("profiles", MessageTypeProfiles, state.SelectProfiles),
		NewBinding("configErrors", MessageTypeConfigErrors, state.SelectConfigErrors),
		decorators,
		NewBinding("settings", MessageTypeSettings, state.SelectSettings),
	}
}

// chatBindingName is the coalescing key for the special-cased chat binding.
const chatBindingName = "chat"

// Bridge subscribes to the store once per binding and pushes outbound
// messages to one consumer whenever a binding's projection changes.
//
// Change detection is shallow equality against the previously observed
// projection, which the store's copy-on-write updates make reliable: an
// untouched slice keeps its reference, so reference inequality means a real
// change.
//
// While paused, store subscriptions keep firing and the latest message per
// binding is retained in a coalescing map; Resume flushes at most one
// message per binding. This bounds traffic during periods the transport
// cannot accept messages (a hidden webview) to O(bindings) no matter how
// many store updates occurred.
type Bridge struct {
	store    *state.Store
	consumer Consumer
	bindings []Binding
	timeNow  func() time.Time

	mu          sync.Mutex
	prev        map[string]any
	prevChat    state.ChatSlice
	prevChatLen int
	paused      bool
	pending     map[string]Message
	unsubs      []func()
	connected   bool
}

// New creates a bridge between the store and one consumer, using the
// standard binding set plus the chat streaming special case.
func New(store *state.Store, consumer Consumer) *Bridge {
	return NewWithBindings(store, consumer, StandardBindings())
}

// NewWithBindings creates a bridge with an explicit binding set. The chat
// transcript is always handled in addition to the given bindings.
func NewWithBindings(store *state.Store, consumer Consumer, bindings []Binding) *Bridge {
	return &Bridge{
		store:    store,
		consumer: consumer,
		bindings: bindings,
		timeNow:  time.Now,
		prev:     make(map[string]any),
		pending:  make(map[string]Message),
	}
}

// Connect registers one store subscription per binding (plus the chat
// subscription) and records the current projections as the baseline.
// Nothing is sent on connect; use SyncAll for the initial full sync.
func (b *Bridge) Connect() {
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = true

	snapshot := b.store.GetState()
	for _, binding := range b.bindings {
		b.prev[binding.Name] = binding.Project(snapshot)
	}
	b.prevChat = state.SelectChat(snapshot)
	b.prevChatLen = len(snapshot.ChatMessages)
	b.mu.Unlock()

	for _, binding := range b.bindings {
		binding := binding
		b.unsubs = append(b.unsubs, b.store.Subscribe(func() {
			b.onChange(binding)
		}))
	}
	b.unsubs = append(b.unsubs, b.store.Subscribe(b.onChatChange))
}

// Disconnect removes all store subscriptions and clears coalesced messages.
func (b *Bridge) Disconnect() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil

	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.pending = make(map[string]Message)
}

// onChange re-runs one binding's selector and emits a message if the
// projection changed. Never panics out of the subscription callback; a
// failing send is the consumer's concern.
func (b *Bridge) onChange(binding Binding) {
	next := binding.Project(b.store.GetState())

	b.mu.Lock()
	prev, seen := b.prev[binding.Name]
	if seen && binding.Equal(prev, next) {
		b.mu.Unlock()
		return
	}
	b.prev[binding.Name] = next
	msg := b.buildMessage(binding, next)
	deliverNow := !b.paused
	if !deliverNow {
		// Latest value wins while paused.
		b.pending[binding.Name] = msg
	}
	b.mu.Unlock()

	if deliverNow {
		b.consumer.Send(msg)
	}
}

// onChatChange classifies a chat transcript change as streaming or
// structural by the length heuristic:
//
//   - length unchanged and nonzero: streaming growth of the last element,
//     emit only that element and its index
//   - anything else: structural, emit the full transcript plus the
//     previously observed length
//
// A structural change that happens to preserve the length (one message
// removed and another added in the same update) is indistinguishable from a
// streaming update under this rule and receives only the last-element
// delta. Known limitation, kept for wire compatibility.
func (b *Bridge) onChatChange() {
	cur := state.SelectChat(b.store.GetState())

	b.mu.Lock()
	if cur.Equal(b.prevChat) {
		// Same slice reference as last observed: this store update did
		// not touch the transcript.
		b.mu.Unlock()
		return
	}
	prevLen := b.prevChatLen
	curLen := len(cur.ChatMessages)
	b.prevChat = cur
	b.prevChatLen = curLen

	var msg Message
	if curLen == prevLen && curLen > 0 {
		msg = b.chatStreamingMessage(cur.ChatMessages[curLen-1], curLen-1)
	} else {
		msg = b.chatStructuralMessage(cur.ChatMessages, prevLen)
	}
	deliverNow := !b.paused
	if !deliverNow {
		// A streaming delta must not replace a coalesced structural
		// update: the consumer has not seen the element the delta
		// targets. Once a structural change is pending, every later
		// chat message stays structural, carrying the full transcript
		// and the pending previous length.
		if prev, ok := b.pending[chatBindingName]; ok && prev.Type == MessageTypeChatStructural {
			msg = b.chatStructuralMessage(cur.ChatMessages, prev.Payload.(ChatStructuralPayload).PreviousLength)
		}
		b.pending[chatBindingName] = msg
	}
	b.mu.Unlock()

	if deliverNow {
		b.consumer.Send(msg)
	}
}

// SyncAll sends one message per binding unconditionally, reflecting current
// state. Used for the initial full-state sync to a newly connected consumer;
// equality history is reset to the sent values. The chat transcript is sent
// as a structural update. Pause still gates delivery: while paused the full
// sync lands in the coalescing map.
func (b *Bridge) SyncAll() {
	snapshot := b.store.GetState()

	b.mu.Lock()
	var out []Message
	for _, binding := range b.bindings {
		payload := binding.Project(snapshot)
		b.prev[binding.Name] = payload
		msg := b.buildMessage(binding, payload)
		if b.paused {
			b.pending[binding.Name] = msg
		} else {
			out = append(out, msg)
		}
	}

	chatMsg := b.chatStructuralMessage(snapshot.ChatMessages, b.prevChatLen)
	b.prevChat = state.SelectChat(snapshot)
	b.prevChatLen = len(snapshot.ChatMessages)
	if b.paused {
		b.pending[chatBindingName] = chatMsg
	} else {
		out = append(out, chatMsg)
	}
	b.mu.Unlock()

	for _, msg := range out {
		b.consumer.Send(msg)
	}
}

// Pause stops outbound delivery without removing store subscriptions.
// Changes keep updating the coalescing map, latest value per binding.
func (b *Bridge) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
}

// Resume flushes the coalescing map - one message per binding that changed
// while paused, in binding-registration order - and re-enables immediate
// delivery.
func (b *Bridge) Resume() {
	b.mu.Lock()
	b.paused = false
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	var out []Message
	for _, binding := range b.bindings {
		if msg, ok := b.pending[binding.Name]; ok {
			out = append(out, msg)
		}
	}
	if msg, ok := b.pending[chatBindingName]; ok {
		out = append(out, msg)
	}
	b.pending = make(map[string]Message)
	b.mu.Unlock()

	for _, msg := range out {
		b.consumer.Send(msg)
	}
}

// buildMessage constructs the outbound message for a binding, applying the
// binding's wire normalization to the outgoing payload only.
func (b *Bridge) buildMessage(binding Binding, payload any) Message {
	if binding.Normalize != nil {
		payload = binding.Normalize(payload)
	}
	return Message{
		Type:      binding.MessageType,
		Timestamp: b.timestamp(),
		Payload:   payload,
	}
}

func (b *Bridge) chatStructuralMessage(msgs []state.ChatMessage, previousLength int) Message {
	return Message{
		Type:      MessageTypeChatStructural,
		Timestamp: b.timestamp(),
		Payload: ChatStructuralPayload{
			ChatMessages:   normalizeChat(msgs),
			PreviousLength: previousLength,
		},
	}
}

func (b *Bridge) chatStreamingMessage(msg state.ChatMessage, index int) Message {
	return Message{
		Type:      MessageTypeChatStreaming,
		Timestamp: b.timestamp(),
		Payload: ChatStreamingPayload{
			Message:      msg,
			MessageIndex: index,
		},
	}
}

func (b *Bridge) timestamp() string {
	return b.timeNow().UTC().Format(time.RFC3339Nano)
}
