// Package debounce coalesces bursts of messages from the same user into a
// single logical turn.
//
// Each user has an independent buffer and timer. Every new message resets
// the user's timer; when the window passes with no new input the buffered
// texts are joined with a space, in arrival order, and handed to the
// callback exactly once.
package debounce

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CitaBot/internal/models"
)

const (
	// DefaultWindow is the quiet period that closes a turn.
	DefaultWindow = 3 * time.Second
	// DefaultMarkReadTimeout bounds a single read receipt call.
	DefaultMarkReadTimeout = 5 * time.Second
)

// ReadMarker marks inbound messages as read on the transport.
type ReadMarker interface {
	MarkRead(ctx context.Context, ref models.MessageRef) error
}

// SettledFunc receives the combined text of one turn.
type SettledFunc func(text, userID string)

// Opts holds Queue configuration.
type Opts struct {
	Window   time.Duration
	Marker   ReadMarker
	Observer func(userID string, parts int)
}

// Option configures a Queue.
type Option func(*Opts)

// WithWindow sets the debounce window.
func WithWindow(d time.Duration) Option {
	return func(o *Opts) { o.Window = d }
}

// WithReadMarker marks every enqueued message read on arrival.
func WithReadMarker(m ReadMarker) Option {
	return func(o *Opts) { o.Marker = m }
}

// WithBatchObserver is called with the number of fragments of each settled turn.
func WithBatchObserver(fn func(userID string, parts int)) Option {
	return func(o *Opts) { o.Observer = fn }
}

type buffer struct {
	parts     []string
	acks      []func()
	timer     *time.Timer
	gen       uint64
	onSettled SettledFunc
}

// Queue is the per-user input debouncer.
type Queue struct {
	mu      sync.Mutex
	window  time.Duration
	marker  ReadMarker
	observe func(userID string, parts int)
	buffers map[string]*buffer
	stopped bool
	running sync.WaitGroup
}

// New creates a Queue.
func New(opts ...Option) *Queue {
	cfg := Opts{Window: DefaultWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Queue{
		window:  cfg.Window,
		marker:  cfg.Marker,
		observe: cfg.Observer,
		buffers: make(map[string]*buffer),
	}
}

// Enqueue appends text to the buffer of userID and re-arms its timer.
// The latest onSettled callback wins. Empty senders or bodies are ignored
// after the read receipt is sent.
//
// acks run after onSettled returns for the turn that includes text, or
// right away when text is ignored as empty. Input dropped by Stop is never
// acknowledged.
func (q *Queue) Enqueue(userID, text string, ref models.MessageRef, onSettled SettledFunc, acks ...func()) {
	q.markRead(userID, ref)

	if userID == "" || strings.TrimSpace(text) == "" {
		slog.Warn("debounce Enqueue ignoring empty message", "user", userID, "len", len(text))
		runAcks(acks)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		slog.Debug("debounce Enqueue after stop", "user", userID)
		return
	}

	b, ok := q.buffers[userID]
	if !ok {
		b = &buffer{}
		q.buffers[userID] = b
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.parts = append(b.parts, text)
	b.acks = append(b.acks, acks...)
	b.onSettled = onSettled
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(q.window, func() { q.settle(userID, gen) })
	slog.Debug("debounce Enqueue buffered", "user", userID, "parts", len(b.parts))
}

func (q *Queue) markRead(userID string, ref models.MessageRef) {
	if q.marker == nil || ref.ID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultMarkReadTimeout)
		defer cancel()
		if err := q.marker.MarkRead(ctx, ref); err != nil {
			slog.Warn("debounce failed to mark message read", "user", userID, "message_id", ref.ID, "error", err)
		}
	}()
}

// settle fires the callback if no newer message re-armed the buffer.
func (q *Queue) settle(userID string, gen uint64) {
	q.mu.Lock()
	b, ok := q.buffers[userID]
	if !ok || b.gen != gen || q.stopped {
		q.mu.Unlock()
		return
	}
	delete(q.buffers, userID)
	q.running.Add(1)
	q.mu.Unlock()
	defer q.running.Done()

	text := strings.Join(b.parts, " ")
	slog.Debug("debounce turn settled", "user", userID, "parts", len(b.parts), "len", len(text))
	if q.observe != nil {
		q.observe(userID, len(b.parts))
	}
	if b.onSettled != nil {
		b.onSettled(text, userID)
	}
	runAcks(b.acks)
}

func runAcks(acks []func()) {
	for _, ack := range acks {
		if ack != nil {
			ack()
		}
	}
}

// Pending returns the number of buffered fragments for userID.
func (q *Queue) Pending(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if b, ok := q.buffers[userID]; ok {
		return len(b.parts)
	}
	return 0
}

// Stop cancels every outstanding timer, drops buffered input and waits for
// callbacks that already settled to return. It must not be called from a
// SettledFunc.
func (q *Queue) Stop() {
	q.mu.Lock()
	for id, b := range q.buffers {
		if b.timer != nil {
			b.timer.Stop()
		}
		delete(q.buffers, id)
	}
	q.stopped = true
	q.mu.Unlock()
	q.running.Wait()
}
