package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Analyzer turns extracted document text into a structured result.
type Analyzer interface {
	Analyze(ctx context.Context, name, text string) (*Result, error)
}

// DocumentStore keeps the raw bytes of uploaded documents.
type DocumentStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

type TrackerOptions struct {
	StepDelay   time.Duration
	MaxFileSize int64
	// Extensions lists accepted file extensions including the dot. Empty
	// accepts every type Extract understands.
	Extensions []string
	Store      DocumentStore
	Logger     *slog.Logger
}

type stepDef struct {
	id, title, description string
	phase                  Status
}

var pipelineSteps = []stepDef{
	{"read", "Reading document", "Extracting text from the uploaded file", StatusThinking},
	{"structure", "Examining structure", "Identifying sections, headings and page breaks", StatusThinking},
	{"parties", "Identifying parties", "Looking for the parties bound by the document", StatusThinking},
	{"clauses", "Extracting clauses", "Locating key clauses and dates", StatusAnalyzing},
	{"risk", "Assessing risk", "Scoring clauses that carry legal exposure", StatusAnalyzing},
	{"recommend", "Preparing recommendations", "Drafting suggested revisions", StatusAnalyzing},
}

var defaultFollowUps = []string{
	"What are the termination conditions?",
	"Which clauses carry the most risk?",
	"Summarize the obligations of each party.",
	"Are there any unusual terms I should negotiate?",
}

// Tracker owns the analysis state of one session and drives the upload
// pipeline through uploading, thinking and analyzing to complete or error.
type Tracker struct {
	analyzer Analyzer
	opts     TrackerOptions
	now      func() time.Time

	mu        sync.Mutex
	state     State
	gen       uint64
	cancel    context.CancelFunc
	listeners []func(State)

	// notifyMu orders listener callbacks the same way state changes were applied.
	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

func NewTracker(analyzer Analyzer, opts TrackerOptions) *Tracker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tracker{
		analyzer: analyzer,
		opts:     opts,
		now:      time.Now,
		state:    State{Status: StatusIdle, ThinkingSteps: []ThinkingStep{}},
	}
}

// OnChange registers fn to receive every new state. Callbacks run
// synchronously and must not call Upload or Reset.
func (t *Tracker) OnChange(fn func(State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone()
}

// Upload validates doc, moves to uploading and processes the document in the
// background. Errors wrap ErrUpload; the state is left untouched on rejection.
func (t *Tracker) Upload(ctx context.Context, doc Document) error {
	if err := t.validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}

	t.mu.Lock()
	if t.state.Status.Terminal() {
		// a finished analysis goes back through idle before the next upload
		t.state = State{Status: StatusIdle, ThinkingSteps: []ThinkingStep{}, UpdatedAt: t.now()}
		t.publishLocked()
		t.mu.Lock()
	}
	if t.state.Status.Busy() {
		t.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrUpload, ErrBusy)
	}
	if t.cancel != nil {
		t.cancel()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.gen++
	gen := t.gen
	t.cancel = cancel
	t.state = State{
		Status: StatusUploading,
		File: &FileInfo{
			Name:        doc.Name,
			Size:        int64(len(doc.Data)),
			ContentType: doc.ContentType,
			UploadedAt:  t.now(),
		},
		ThinkingSteps: []ThinkingStep{},
		UpdatedAt:     t.now(),
	}
	t.publishLocked()

	t.opts.Logger.Info("document upload started", "file", doc.Name, "size", len(doc.Data))

	t.wg.Add(1)
	go t.run(runCtx, gen, doc)
	return nil
}

// Reset cancels any running pipeline and returns to idle.
func (t *Tracker) Reset() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen++
	t.state = State{Status: StatusIdle, ThinkingSteps: []ThinkingStep{}, UpdatedAt: t.now()}
	t.publishLocked()
}

// Wait blocks until every pipeline goroutine has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) validate(doc Document) error {
	if strings.TrimSpace(doc.Name) == "" {
		return fmt.Errorf("document name is required")
	}
	if len(doc.Data) == 0 {
		return fmt.Errorf("document %s is empty", doc.Name)
	}
	if t.opts.MaxFileSize > 0 && int64(len(doc.Data)) > t.opts.MaxFileSize {
		return fmt.Errorf("document %s exceeds the %d byte limit", doc.Name, t.opts.MaxFileSize)
	}
	ext := strings.ToLower(filepath.Ext(doc.Name))
	if !Supported(ext) {
		return fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	if len(t.opts.Extensions) > 0 {
		for _, allowed := range t.opts.Extensions {
			if strings.EqualFold(allowed, ext) {
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	return nil
}

func (t *Tracker) run(ctx context.Context, gen uint64, doc Document) {
	defer t.wg.Done()
	log := t.opts.Logger.With("file", doc.Name)

	if t.opts.Store != nil {
		key := xid.New().String() + "/" + filepath.Base(doc.Name)
		if err := t.opts.Store.Put(ctx, key, doc.ContentType, doc.Data); err != nil {
			log.Error("failed to store document", "error", err)
			t.fail(ctx, gen, fmt.Sprintf("Failed to store %s: %v", doc.Name, err))
			return
		}
		t.apply(ctx, gen, StatusUploading, func(s *State) { s.File.ObjectKey = key })
	}

	if !t.apply(ctx, gen, StatusThinking, nil) {
		return
	}

	text, err := Extract(doc)
	if err != nil {
		log.Error("failed to extract text", "error", err)
		t.fail(ctx, gen, fmt.Sprintf("Could not read %s: %v", doc.Name, err))
		return
	}

	for i := range pipelineSteps {
		if pipelineSteps[i].phase != StatusThinking {
			continue
		}
		if !t.step(ctx, gen, i) {
			return
		}
	}

	if !t.apply(ctx, gen, StatusAnalyzing, func(s *State) {
		s.FollowUps = append([]string(nil), defaultFollowUps...)
	}) {
		return
	}

	result, err := t.analyzer.Analyze(ctx, doc.Name, text)
	if err != nil {
		log.Error("analysis failed", "error", err)
		t.fail(ctx, gen, fmt.Sprintf("Analysis of %s failed: %v", doc.Name, err))
		return
	}

	for i := range pipelineSteps {
		if pipelineSteps[i].phase != StatusAnalyzing {
			continue
		}
		if !t.step(ctx, gen, i) {
			return
		}
	}

	if t.apply(ctx, gen, StatusComplete, func(s *State) { s.Result = result }) {
		log.Info("document analysis complete", "clauses", len(result.Clauses), "parties", len(result.Parties))
	}
}

// step reveals pipeline step i as active, waits the configured delay and
// marks it complete.
func (t *Tracker) step(ctx context.Context, gen uint64, i int) bool {
	def := pipelineSteps[i]
	ok := t.apply(ctx, gen, def.phase, func(s *State) {
		s.ThinkingSteps = append(s.ThinkingSteps, ThinkingStep{
			ID:          def.id,
			Title:       def.title,
			Description: def.description,
			Status:      StepActive,
		})
	})
	if !ok {
		return false
	}
	if err := sleep(ctx, t.opts.StepDelay); err != nil {
		return false
	}
	return t.apply(ctx, gen, def.phase, func(s *State) {
		for j := range s.ThinkingSteps {
			if s.ThinkingSteps[j].ID == def.id {
				s.ThinkingSteps[j].Status = StepComplete
			}
		}
	})
}

func (t *Tracker) fail(ctx context.Context, gen uint64, msg string) {
	t.apply(ctx, gen, StatusError, func(s *State) { s.Error = msg })
}

// apply moves the state to status (or keeps it when already there) and runs
// mutate, unless the pipeline generation has been superseded.
func (t *Tracker) apply(ctx context.Context, gen uint64, status Status, mutate func(*State)) bool {
	t.mu.Lock()
	if gen != t.gen || ctx.Err() != nil {
		t.mu.Unlock()
		return false
	}
	if status != t.state.Status {
		if !CanTransition(t.state.Status, status) {
			t.opts.Logger.Warn("refusing analysis transition", "from", t.state.Status, "to", status)
			t.mu.Unlock()
			return false
		}
		t.state.Status = status
	}
	if mutate != nil {
		mutate(&t.state)
	}
	t.state.UpdatedAt = t.now()
	t.publishLocked()
	return true
}

// publishLocked hands the current state to listeners. It must be called with
// t.mu held and releases it.
func (t *Tracker) publishLocked() {
	snapshot := t.state.clone()
	listeners := slices.Clone(t.listeners)
	t.notifyMu.Lock()
	t.mu.Unlock()
	defer t.notifyMu.Unlock()
	for _, fn := range listeners {
		fn(snapshot)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
