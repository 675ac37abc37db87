// Package notify delivers user-facing messages over the LINE Messaging API
// and renders their text.
package notify

import (
	"context"
	"sync"
)

// Sender pushes a text message to a chat account. Delivery failures are
// reported as false, never as errors.
type Sender interface {
	Push(ctx context.Context, to, text string) bool
}

// Replier answers an inbound message through its reply token.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) bool
}

// Notifier is the full outbound surface used by the engine.
type Notifier interface {
	Sender
	Replier
}

// Message is one recorded delivery.
type Message struct {
	Kind string `json:"kind"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// Recorder keeps every message in memory. It backs tests and --dry-run.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	// Fail lists recipients (or reply tokens) whose delivery reports false.
	Fail map[string]bool
}

func (r *Recorder) Push(_ context.Context, to, text string) bool {
	return r.record("push", to, text)
}

func (r *Recorder) Reply(_ context.Context, replyToken, text string) bool {
	return r.record("reply", replyToken, text)
}

func (r *Recorder) record(kind, to, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Kind: kind, To: to, Text: text})
	return !r.Fail[to]
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Reset drops recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}
