package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericksa/docchat/internal/analysis"
	"github.com/ericksa/docchat/internal/chat"
)

type Options struct {
	Logger   *slog.Logger
	Recorder Recorder
	Now      func() time.Time
	// EventBuffer is the channel size handed to each subscriber.
	EventBuffer int
}

// Controller owns the conversation of one session: its messages, the
// conversation token, the input gate, notices and layout. It observes the
// analysis tracker but never drives it while holding its own lock.
type Controller struct {
	id        string
	transport chat.Transport
	tracker   Tracker
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
	bufSize   int

	mu       sync.Mutex
	messages []Message
	token    string
	waiting  bool
	gen      uint64
	status   analysis.Status
	notices  []Notice
	layout   Layout
	subs     map[int]chan Event
	nextSub  int
	closed   bool
	lastSeen time.Time
}

// forgetter is implemented by transports that keep per-conversation history.
type forgetter interface {
	Forget(token string)
}

func NewController(id string, transport chat.Transport, tracker Tracker, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	c := &Controller{
		id:        id,
		transport: transport,
		tracker:   tracker,
		recorder:  opts.Recorder,
		logger:    opts.Logger.With("session_id", id),
		now:       opts.Now,
		bufSize:   opts.EventBuffer,
		messages:  []Message{},
		status:    tracker.State().Status,
		layout:    defaultLayout(),
		subs:      make(map[int]chan Event),
	}
	c.lastSeen = c.now()
	tracker.OnChange(c.observe)
	return c
}

func (c *Controller) ID() string { return c.id }

// SendMessage appends the user's message, asks the agent and appends its
// reply. Agent failures are turned into a fallback reply and a notice.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.waiting || c.status.Busy() {
		c.mu.Unlock()
		return ErrInputDisabled
	}
	c.appendLocked(RoleUser, text)
	c.leaveChatOnlyLocked()
	c.waiting = true
	gen, token := c.gen, c.token
	c.mu.Unlock()

	defer c.release(gen)

	reply, err := c.transport.Send(ctx, text, token)

	c.mu.Lock()
	if gen != c.gen {
		// reset while the agent was answering
		c.mu.Unlock()
		c.logger.Info("discarding reply from before reset")
		return nil
	}
	if err != nil {
		c.appendLocked(RoleAssistant, fallbackReply)
		c.noticeLocked(noticeCommunication)
	} else {
		c.token = reply.ConversationToken
		c.appendLocked(RoleAssistant, reply.Content)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("error getting AI response", "error", err)
		c.record("send_message", text, nil, err)
		return nil
	}
	c.record("send_message", text, reply.Content, nil)
	return nil
}

// release opens the input gate, unless a reset already handed it to a newer
// conversation.
func (c *Controller) release(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.waiting = false
	}
}

// SubmitFollowUp sends one of the suggested follow-up questions.
func (c *Controller) SubmitFollowUp(ctx context.Context, question string) error {
	return c.SendMessage(ctx, question)
}

// UploadDocument announces the upload in the conversation and hands the
// document to the tracker. A rejected upload raises a notice; the
// announcement stays.
func (c *Controller) UploadDocument(ctx context.Context, doc analysis.Document) error {
	c.mu.Lock()
	if c.waiting || c.status.Busy() {
		c.mu.Unlock()
		return ErrInputDisabled
	}
	c.leaveChatOnlyLocked()
	c.appendLocked(RoleAssistant, fmt.Sprintf(uploadAnnouncement, doc.Name))
	// hold the gate until the tracker reports uploading
	c.waiting = true
	gen := c.gen
	c.mu.Unlock()

	defer c.release(gen)

	err := c.tracker.Upload(ctx, doc)
	if err != nil {
		c.logger.Warn("document upload rejected", "file", doc.Name, "error", err)
		c.mu.Lock()
		c.noticeLocked(noticeUploadFailed)
		c.mu.Unlock()
	}
	c.record("upload_document", map[string]any{"name": doc.Name, "size": len(doc.Data)}, nil, err)
	return nil
}

// ResetConversation starts over: no messages, no token, idle analysis and
// the single chat panel. Pending notices are replaced by one reset notice.
func (c *Controller) ResetConversation(ctx context.Context) {
	// the tracker goes first so a finishing pipeline cannot add its
	// completion message to the new conversation
	c.tracker.Reset()

	c.mu.Lock()
	oldToken := c.token
	c.gen++
	c.messages = []Message{}
	c.token = ""
	c.waiting = false
	c.layout = defaultLayout()
	c.notices = nil
	c.publishLocked(Event{Type: EventReset})
	c.publishLocked(Event{Type: EventLayout, Layout: ptr(c.layout)})
	c.noticeLocked(noticeReset)
	c.mu.Unlock()

	c.forget(oldToken)
	c.logger.Info("conversation reset")
	c.record("reset", nil, nil, nil)
}

// ResetAnalysis drops the current document analysis and returns the
// tracker to idle. Messages and the conversation token are kept.
func (c *Controller) ResetAnalysis(ctx context.Context) {
	c.tracker.Reset()
	c.logger.Info("analysis reset")
	c.record("reset_analysis", nil, nil, nil)
}

// InputDisabled reports whether new chat input is refused: a reply is
// outstanding or a document is being processed.
func (c *Controller) InputDisabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiting || c.status.Busy()
}

func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message{}, c.messages...)
}

func (c *Controller) ConversationToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Controller) Analysis() analysis.State {
	return c.tracker.State()
}

func (c *Controller) Layout() Layout {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.layout
}

// TogglePanel flips one of the layout panels. It reports false for an
// unknown panel name.
func (c *Controller) TogglePanel(panel string) (Layout, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, ok := c.layout.toggle(panel)
	if !ok {
		return c.layout, false
	}
	c.layout = next
	c.publishLocked(Event{Type: EventLayout, Layout: ptr(next)})
	return next, true
}

// DrainNotices returns and clears the pending notices.
func (c *Controller) DrainNotices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.notices
	c.notices = nil
	if out == nil {
		out = []Notice{}
	}
	return out
}

func (c *Controller) Snapshot() Snapshot {
	state := c.tracker.State()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:                c.id,
		Messages:          append([]Message{}, c.messages...),
		ConversationToken: c.token,
		InputDisabled:     c.waiting || c.status.Busy(),
		Layout:            c.layout,
		Analysis:          state,
		PendingNotices:    len(c.notices),
	}
}

// Subscribe returns a channel of session events and a function that ends the
// subscription. Events are dropped for subscribers that fall behind.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Event, c.bufSize)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Close stops the analysis pipeline, ends every subscription and lets the
// transport drop the conversation history.
func (c *Controller) Close() {
	c.tracker.Reset()

	c.mu.Lock()
	token := c.token
	c.token = ""
	c.gen++
	c.closed = true
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	c.forget(token)
}

func (c *Controller) forget(token string) {
	if f, ok := c.transport.(forgetter); ok && token != "" {
		f.Forget(token)
	}
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.lastSeen = c.now()
	c.mu.Unlock()
}

func (c *Controller) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// observe receives every analysis state. Only a change of status produces
// conversation output, so repeated notifications are harmless.
func (c *Controller) observe(s analysis.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.status
	c.status = s.Status
	c.publishLocked(Event{Type: EventState, State: &s})

	if s.Status == prev {
		return
	}
	switch s.Status {
	case analysis.StatusComplete:
		c.appendLocked(RoleAssistant, completionReply)
		c.noticeLocked(noticeComplete)
	case analysis.StatusError:
		c.noticeLocked(noticeUploadFailed)
	}
}

func (c *Controller) appendLocked(role Role, content string) {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: c.now(),
	}
	c.messages = append(c.messages, msg)
	c.lastSeen = msg.Timestamp
	c.publishLocked(Event{Type: EventMessage, Message: &msg})
}

func (c *Controller) noticeLocked(n Notice) {
	n.ID = uuid.NewString()
	n.CreatedAt = c.now()
	c.notices = append(c.notices, n)
	c.publishLocked(Event{Type: EventNotice, Notice: &n})
}

func (c *Controller) leaveChatOnlyLocked() {
	if !c.layout.ShowOnlyChatPanel {
		return
	}
	c.layout.ShowOnlyChatPanel = false
	c.publishLocked(Event{Type: EventLayout, Layout: ptr(c.layout)})
}

func (c *Controller) publishLocked(e Event) {
	e.SessionID = c.id
	e.Time = c.now()
	for id, ch := range c.subs {
		select {
		case ch <- e:
		default:
			c.logger.Warn("dropping event for slow subscriber", "subscriber", id, "type", e.Type)
		}
	}
}

func (c *Controller) record(op string, input, output any, err error) {
	if c.recorder == nil {
		return
	}
	c.recorder.Record(op, c.id, input, output, err)
}

func ptr[T any](v T) *T { return &v }
