package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericksa/docchat/internal/analysis"
	"github.com/ericksa/docchat/internal/chat"
)

type sendCall struct {
	content, token string
}

type fakeTransport struct {
	mu    sync.Mutex
	calls []sendCall
	send  func(ctx context.Context, content, token string) (chat.Reply, error)
}

func (f *fakeTransport) Send(ctx context.Context, content, token string) (chat.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sendCall{content, token})
	f.mu.Unlock()
	return f.send(ctx, content, token)
}

func replyWith(content, token string) *fakeTransport {
	return &fakeTransport{send: func(context.Context, string, string) (chat.Reply, error) {
		return chat.Reply{Content: content, ConversationToken: token}, nil
	}}
}

type fakeTracker struct {
	mu        sync.Mutex
	state     analysis.State
	listeners []func(analysis.State)
	uploadErr error
	uploads   []analysis.Document
	// started and block, when set, hold Upload before it reports uploading
	started chan struct{}
	block   chan struct{}
	resets    int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{state: analysis.State{Status: analysis.StatusIdle}}
}

func (f *fakeTracker) Upload(ctx context.Context, doc analysis.Document) error {
	f.mu.Lock()
	f.uploads = append(f.uploads, doc)
	err := f.uploadErr
	started, block := f.started, f.block
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return err
	}
	f.emit(analysis.State{Status: analysis.StatusUploading, File: &analysis.FileInfo{Name: doc.Name}})
	return nil
}

func (f *fakeTracker) Reset() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
	f.emit(analysis.State{Status: analysis.StatusIdle})
}

func (f *fakeTracker) State() analysis.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTracker) OnChange(fn func(analysis.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeTracker) emit(s analysis.State) {
	f.mu.Lock()
	f.state = s
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

type recordedOp struct {
	op  string
	err error
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *fakeRecorder) Record(operation, sessionID string, input, output any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{operation, err})
}

func newTestController(t *testing.T, tr chat.Transport) (*Controller, *fakeTracker) {
	t.Helper()
	tracker := newFakeTracker()
	return NewController("s1", tr, tracker, Options{}), tracker
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = string(m.Role) + ":" + m.Content
	}
	return out
}

func TestSendMessage_StoresReplyAndToken(t *testing.T) {
	tr := replyWith("Hi there", "abc")
	c, _ := newTestController(t, tr)

	require.NoError(t, c.SendMessage(context.Background(), "Hello"))

	assert.Equal(t, []string{"user:Hello", "assistant:Hi there"}, contents(c.Messages()))
	assert.Equal(t, "abc", c.ConversationToken())
	assert.False(t, c.InputDisabled())
	assert.Equal(t, []sendCall{{"Hello", ""}}, tr.calls)

	require.NoError(t, c.SendMessage(context.Background(), "Again"))
	assert.Equal(t, sendCall{"Again", "abc"}, tr.calls[1])
}

func TestSendMessage_PreservesOrder(t *testing.T) {
	n := 0
	tr := &fakeTransport{send: func(_ context.Context, content, _ string) (chat.Reply, error) {
		n++
		return chat.Reply{Content: fmt.Sprintf("reply %d to %s", n, content), ConversationToken: "tok"}, nil
	}}
	c, _ := newTestController(t, tr)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, c.SendMessage(context.Background(), text))
	}

	assert.Equal(t, []string{
		"user:one", "assistant:reply 1 to one",
		"user:two", "assistant:reply 2 to two",
		"user:three", "assistant:reply 3 to three",
	}, contents(c.Messages()))
}

func TestSendMessage_TransportFailure(t *testing.T) {
	tr := &fakeTransport{send: func(context.Context, string, string) (chat.Reply, error) {
		return chat.Reply{}, fmt.Errorf("%w: connection refused", chat.ErrTransport)
	}}
	rec := &fakeRecorder{}
	c := NewController("s1", tr, newFakeTracker(), Options{Recorder: rec})

	require.NoError(t, c.SendMessage(context.Background(), "Hello"))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, fallbackReply, msgs[1].Content)
	assert.False(t, c.InputDisabled())
	assert.Empty(t, c.ConversationToken())

	notices := c.DrainNotices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Communication Error", notices[0].Title)
	assert.Equal(t, VariantDestructive, notices[0].Variant)
	assert.Empty(t, c.DrainNotices())

	require.Len(t, rec.ops, 1)
	assert.ErrorIs(t, rec.ops[0].err, chat.ErrTransport)
}

func TestSendMessage_Empty(t *testing.T) {
	c, _ := newTestController(t, replyWith("x", "y"))
	assert.ErrorIs(t, c.SendMessage(context.Background(), "  \n"), ErrEmptyMessage)
	assert.Empty(t, c.Messages())
}

func TestSendMessage_GateRejectsSecondCall(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	tr := &fakeTransport{send: func(context.Context, string, string) (chat.Reply, error) {
		close(started)
		<-release
		return chat.Reply{Content: "done", ConversationToken: "t"}, nil
	}}
	c, _ := newTestController(t, tr)

	errc := make(chan error, 1)
	go func() { errc <- c.SendMessage(context.Background(), "first") }()
	<-started

	assert.True(t, c.InputDisabled())
	assert.ErrorIs(t, c.SendMessage(context.Background(), "second"), ErrInputDisabled)
	assert.ErrorIs(t, c.UploadDocument(context.Background(), analysis.Document{Name: "a.txt"}), ErrInputDisabled)

	close(release)
	require.NoError(t, <-errc)
	assert.False(t, c.InputDisabled())
	assert.Equal(t, []string{"user:first", "assistant:done"}, contents(c.Messages()))
}

func TestSendMessage_ReplyAfterResetIsDiscarded(t *testing.T) {
	releases := []chan struct{}{make(chan struct{}), make(chan struct{})}
	started := make(chan int, 2)
	var call int
	var mu sync.Mutex
	tr := &fakeTransport{send: func(_ context.Context, content, _ string) (chat.Reply, error) {
		mu.Lock()
		i := call
		call++
		mu.Unlock()
		started <- i
		<-releases[i]
		return chat.Reply{Content: "reply to " + content, ConversationToken: content}, nil
	}}
	c, _ := newTestController(t, tr)

	old := make(chan error, 1)
	go func() { old <- c.SendMessage(context.Background(), "before") }()
	require.Equal(t, 0, <-started)

	c.ResetConversation(context.Background())
	assert.False(t, c.InputDisabled())

	fresh := make(chan error, 1)
	go func() { fresh <- c.SendMessage(context.Background(), "after") }()
	require.Equal(t, 1, <-started)

	// the stale reply must neither land nor open the new gate
	close(releases[0])
	require.NoError(t, <-old)
	assert.True(t, c.InputDisabled())
	assert.Equal(t, []string{"user:after"}, contents(c.Messages()))

	close(releases[1])
	require.NoError(t, <-fresh)
	assert.Equal(t, []string{"user:after", "assistant:reply to after"}, contents(c.Messages()))
	assert.Equal(t, "after", c.ConversationToken())
}

func TestUploadDocument_Announces(t *testing.T) {
	c, tracker := newTestController(t, replyWith("x", "y"))

	require.NoError(t, c.UploadDocument(context.Background(), analysis.Document{Name: "contract.pdf", Data: []byte("%PDF")}))

	assert.Equal(t, []string{"assistant:Uploading document: contract.pdf"}, contents(c.Messages()))
	assert.Equal(t, analysis.StatusUploading, c.Analysis().Status)
	assert.True(t, c.InputDisabled())
	assert.False(t, c.Layout().ShowOnlyChatPanel)
	require.Len(t, tracker.uploads, 1)

	assert.ErrorIs(t, c.SendMessage(context.Background(), "hi"), ErrInputDisabled)
}

func TestUploadDocument_Rejected(t *testing.T) {
	c, tracker := newTestController(t, replyWith("x", "y"))
	tracker.uploadErr = fmt.Errorf("%w: %w", analysis.ErrUpload, analysis.ErrUnsupported)

	require.NoError(t, c.UploadDocument(context.Background(), analysis.Document{Name: "virus.exe"}))

	assert.Equal(t, []string{"assistant:Uploading document: virus.exe"}, contents(c.Messages()))
	notices := c.DrainNotices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Upload Failed", notices[0].Title)
	assert.False(t, c.InputDisabled())
}

func TestUploadDocument_GateHeldUntilUploading(t *testing.T) {
	c, tracker := newTestController(t, replyWith("hi", "t"))
	tracker.started = make(chan struct{}, 1)
	tracker.block = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- c.UploadDocument(context.Background(), analysis.Document{Name: "a.txt"}) }()
	<-tracker.started

	assert.True(t, c.InputDisabled())
	assert.ErrorIs(t, c.UploadDocument(context.Background(), analysis.Document{Name: "b.txt"}), ErrInputDisabled)
	assert.ErrorIs(t, c.SendMessage(context.Background(), "hello"), ErrInputDisabled)

	close(tracker.block)
	require.NoError(t, <-errc)
	assert.Len(t, tracker.uploads, 1)
	assert.Equal(t, []string{"assistant:Uploading document: a.txt"}, contents(c.Messages()))
	assert.True(t, c.InputDisabled())
}

func TestUploadDocument_ConcurrentCallsAdmitOne(t *testing.T) {
	release := make(chan struct{})
	tr := &fakeTransport{send: func(context.Context, string, string) (chat.Reply, error) {
		<-release
		return chat.Reply{Content: "hi", ConversationToken: "t"}, nil
	}}
	c, tracker := newTestController(t, tr)
	tracker.block = release

	errs := make(chan error, 3)
	for _, name := range []string{"a.txt", "b.txt"} {
		go func() { errs <- c.UploadDocument(context.Background(), analysis.Document{Name: name}) }()
	}
	go func() { errs <- c.SendMessage(context.Background(), "hello") }()

	// the winner is held in the tracker or the transport until release
	for range 2 {
		assert.ErrorIs(t, <-errs, ErrInputDisabled)
	}
	close(release)
	require.NoError(t, <-errs)

	tracker.mu.Lock()
	uploads := len(tracker.uploads)
	tracker.mu.Unlock()
	assert.LessOrEqual(t, uploads, 1)
	assert.Len(t, c.Messages(), 2-uploads)
}

func TestResetAnalysis_KeepsConversation(t *testing.T) {
	c, tracker := newTestController(t, replyWith("Hi there", "abc"))

	require.NoError(t, c.SendMessage(context.Background(), "Hello"))
	require.NoError(t, c.UploadDocument(context.Background(), analysis.Document{Name: "nda.txt"}))
	tracker.emit(analysis.State{Status: analysis.StatusComplete, Result: &analysis.Result{}})
	c.DrainNotices()

	c.ResetAnalysis(context.Background())

	assert.Equal(t, analysis.StatusIdle, c.Analysis().Status)
	assert.Equal(t, 1, tracker.resets)
	assert.Equal(t, []string{
		"user:Hello",
		"assistant:Hi there",
		"assistant:Uploading document: nda.txt",
		"assistant:" + completionReply,
	}, contents(c.Messages()))
	assert.Equal(t, "abc", c.ConversationToken())
	assert.False(t, c.InputDisabled())
	assert.Empty(t, c.DrainNotices())

	require.NoError(t, c.UploadDocument(context.Background(), analysis.Document{Name: "msa.txt"}))
	assert.Len(t, tracker.uploads, 2)
}

func TestCompletionEdge_ProducesOneMessage(t *testing.T) {
	c, tracker := newTestController(t, replyWith("x", "y"))

	tracker.emit(analysis.State{Status: analysis.StatusAnalyzing})
	assert.True(t, c.InputDisabled())

	done := analysis.State{Status: analysis.StatusComplete, Result: &analysis.Result{Summary: "ok"}}
	tracker.emit(done)
	tracker.emit(done)

	assert.Equal(t, []string{"assistant:" + completionReply}, contents(c.Messages()))
	notices := c.DrainNotices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Analysis Complete", notices[0].Title)
	assert.False(t, c.InputDisabled())
}

func TestErrorEdge_RaisesNotice(t *testing.T) {
	c, tracker := newTestController(t, replyWith("x", "y"))

	tracker.emit(analysis.State{Status: analysis.StatusThinking})
	tracker.emit(analysis.State{Status: analysis.StatusError, Error: "boom"})
	tracker.emit(analysis.State{Status: analysis.StatusError, Error: "boom"})

	notices := c.DrainNotices()
	require.Len(t, notices, 1)
	assert.Equal(t, "Upload Failed", notices[0].Title)
	assert.Empty(t, c.Messages())
}

func TestResetConversation(t *testing.T) {
	c, tracker := newTestController(t, replyWith("Hi there", "abc"))

	require.NoError(t, c.SendMessage(context.Background(), "Hello"))
	c.TogglePanel(PanelLeft)
	tracker.emit(analysis.State{Status: analysis.StatusComplete, Result: &analysis.Result{}})

	c.ResetConversation(context.Background())

	snap := c.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.ConversationToken)
	assert.Equal(t, analysis.StatusIdle, snap.Analysis.Status)
	assert.Equal(t, defaultLayout(), snap.Layout)
	assert.False(t, snap.InputDisabled)
	assert.Equal(t, 1, tracker.resets)

	once := c.DrainNotices()
	require.Len(t, once, 1)
	assert.Equal(t, "Conversation Reset", once[0].Title)

	c.ResetConversation(context.Background())
	c.ResetConversation(context.Background())
	twice := c.DrainNotices()
	require.Len(t, twice, 1)
	assert.Empty(t, c.Messages())
	assert.Empty(t, c.ConversationToken())
}

type forgettingTransport struct {
	*fakeTransport
	forgotten []string
}

func (f *forgettingTransport) Forget(token string) { f.forgotten = append(f.forgotten, token) }

func TestResetConversation_ForgetsHistory(t *testing.T) {
	tr := &forgettingTransport{fakeTransport: replyWith("Hi", "abc")}
	c, _ := newTestController(t, tr)

	require.NoError(t, c.SendMessage(context.Background(), "Hello"))
	c.ResetConversation(context.Background())
	c.ResetConversation(context.Background())

	assert.Equal(t, []string{"abc"}, tr.forgotten)
}

func TestClose_ForgetsHistory(t *testing.T) {
	tr := &forgettingTransport{fakeTransport: replyWith("Hi", "abc")}
	c, _ := newTestController(t, tr)

	require.NoError(t, c.SendMessage(context.Background(), "Hello"))
	c.Close()

	assert.Equal(t, []string{"abc"}, tr.forgotten)
	assert.Empty(t, c.ConversationToken())
}

func TestSubscribe_ReceivesEventsInOrder(t *testing.T) {
	c, tracker := newTestController(t, replyWith("Hi there", "abc"))
	events, cancel := c.Subscribe()

	require.NoError(t, c.SendMessage(context.Background(), "Hello"))
	tracker.emit(analysis.State{Status: analysis.StatusAnalyzing})

	var types []EventType
	for len(types) < 4 {
		select {
		case e := <-events:
			assert.Equal(t, "s1", e.SessionID)
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %v", types)
		}
	}
	assert.Equal(t, []EventType{EventMessage, EventLayout, EventMessage, EventState}, types)

	cancel()
	cancel()
	_, ok := <-drain(events)
	assert.False(t, ok)
}

// drain empties buffered events and returns the closed channel.
func drain(ch <-chan Event) <-chan Event {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return ch
			}
		default:
			return ch
		}
	}
}

func TestClose_EndsSubscriptions(t *testing.T) {
	c, tracker := newTestController(t, replyWith("x", "y"))
	events, _ := c.Subscribe()

	c.Close()
	_, ok := <-drain(events)
	assert.False(t, ok)
	assert.Equal(t, 1, tracker.resets)

	late, _ := c.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestRecorder_ReceivesOperations(t *testing.T) {
	rec := &fakeRecorder{}
	tracker := newFakeTracker()
	c := NewController("s1", replyWith("x", "y"), tracker, Options{Recorder: rec})

	require.NoError(t, c.SendMessage(context.Background(), "Hello"))
	tracker.uploadErr = errors.New("nope")
	require.NoError(t, c.UploadDocument(context.Background(), analysis.Document{Name: "a.txt"}))
	c.ResetConversation(context.Background())

	require.Len(t, rec.ops, 3)
	assert.Equal(t, "send_message", rec.ops[0].op)
	assert.Equal(t, "upload_document", rec.ops[1].op)
	assert.Error(t, rec.ops[1].err)
	assert.Equal(t, "reset", rec.ops[2].op)
}

type wordCounter struct{}

func (wordCounter) Analyze(_ context.Context, name, text string) (*analysis.Result, error) {
	return &analysis.Result{Summary: name, Parties: []string{"Acme"}}, nil
}

func TestController_WithTracker(t *testing.T) {
	tracker := analysis.NewTracker(wordCounter{}, analysis.TrackerOptions{})
	c := NewController("s1", replyWith("x", "y"), tracker, Options{})

	require.NoError(t, c.UploadDocument(context.Background(), analysis.Document{
		Name: "contract.txt", ContentType: "text/plain", Data: []byte("This Agreement is made between Acme and Globex."),
	}))
	tracker.Wait()

	state := c.Analysis()
	require.Equal(t, analysis.StatusComplete, state.Status)
	assert.Equal(t, []string{
		"assistant:Uploading document: contract.txt",
		"assistant:" + completionReply,
	}, contents(c.Messages()))
	assert.False(t, c.InputDisabled())

	// a new upload from complete goes through idle and completes again
	require.NoError(t, c.UploadDocument(context.Background(), analysis.Document{Name: "second.txt", Data: []byte("more text")}))
	tracker.Wait()
	assert.Len(t, c.Messages(), 4)
}
