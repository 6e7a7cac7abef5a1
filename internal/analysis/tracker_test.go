package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	result *Result
	err    error
	texts  []string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, name, text string) (*Result, error) {
	f.texts = append(f.texts, text)
	return f.result, f.err
}

type blockingStore struct {
	release chan struct{}
	err     error
	mu      sync.Mutex
	keys    []string
}

func (s *blockingStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	return s.err
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Status
	for _, s := range r.states {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}

func contractDoc() Document {
	return Document{
		Name:        "contract.txt",
		ContentType: "text/plain",
		Data:        []byte("This Agreement is made between Acme Corp and Globex Inc."),
	}
}

func TestTracker_UploadCompletes(t *testing.T) {
	analyzer := &fakeAnalyzer{result: &Result{Summary: "ok", Parties: []string{"Acme Corp"}}}
	store := &blockingStore{}
	tracker := NewTracker(analyzer, TrackerOptions{Store: store})
	rec := &recorder{}
	tracker.OnChange(rec.record)

	require.NoError(t, tracker.Upload(context.Background(), contractDoc()))
	tracker.Wait()

	state := tracker.State()
	assert.Equal(t, StatusComplete, state.Status)
	require.NotNil(t, state.File)
	require.NotNil(t, state.Result)
	assert.Equal(t, "contract.txt", state.File.Name)
	assert.NotEmpty(t, state.File.ObjectKey)
	assert.Equal(t, "ok", state.Result.Summary)
	assert.Len(t, state.ThinkingSteps, len(pipelineSteps))
	for _, step := range state.ThinkingSteps {
		assert.Equal(t, StepComplete, step.Status)
	}
	assert.NotEmpty(t, state.FollowUps)

	assert.Equal(t, []Status{StatusUploading, StatusThinking, StatusAnalyzing, StatusComplete}, rec.statuses())
	require.Len(t, analyzer.texts, 1)
	assert.Contains(t, analyzer.texts[0], "Acme Corp")
	assert.Len(t, store.keys, 1)
}

func TestTracker_AnalyzerFailure(t *testing.T) {
	tracker := NewTracker(&fakeAnalyzer{err: errors.New("model offline")}, TrackerOptions{})
	rec := &recorder{}
	tracker.OnChange(rec.record)

	require.NoError(t, tracker.Upload(context.Background(), contractDoc()))
	tracker.Wait()

	state := tracker.State()
	assert.Equal(t, StatusError, state.Status)
	assert.Contains(t, state.Error, "model offline")
	assert.Nil(t, state.Result)
	assert.Equal(t, []Status{StatusUploading, StatusThinking, StatusAnalyzing, StatusError}, rec.statuses())
}

func TestTracker_StoreFailure(t *testing.T) {
	tracker := NewTracker(&fakeAnalyzer{result: &Result{}}, TrackerOptions{
		Store: &blockingStore{err: errors.New("bucket missing")},
	})

	require.NoError(t, tracker.Upload(context.Background(), contractDoc()))
	tracker.Wait()

	state := tracker.State()
	assert.Equal(t, StatusError, state.Status)
	assert.Contains(t, state.Error, "bucket missing")
}

func TestTracker_RejectsInvalidDocuments(t *testing.T) {
	tracker := NewTracker(&fakeAnalyzer{}, TrackerOptions{MaxFileSize: 10, Extensions: []string{".txt"}})

	tests := []struct {
		name string
		doc  Document
	}{
		{"no name", Document{Data: []byte("x")}},
		{"empty", Document{Name: "a.txt"}},
		{"too large", Document{Name: "a.txt", Data: []byte("more than ten bytes")}},
		{"unknown type", Document{Name: "a.exe", Data: []byte("x")}},
		{"not allowed", Document{Name: "a.pdf", Data: []byte("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tracker.Upload(context.Background(), tt.doc)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUpload)
			assert.Equal(t, StatusIdle, tracker.State().Status)
		})
	}
}

func TestTracker_BusyWhileUploading(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	tracker := NewTracker(&fakeAnalyzer{result: &Result{}}, TrackerOptions{Store: store})

	require.NoError(t, tracker.Upload(context.Background(), contractDoc()))
	assert.Equal(t, StatusUploading, tracker.State().Status)

	err := tracker.Upload(context.Background(), contractDoc())
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, err, ErrUpload)

	close(store.release)
	tracker.Wait()
	assert.Equal(t, StatusComplete, tracker.State().Status)
}

func TestTracker_ResetDiscardsRunningPipeline(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	tracker := NewTracker(&fakeAnalyzer{result: &Result{}}, TrackerOptions{Store: store})
	rec := &recorder{}
	tracker.OnChange(rec.record)

	require.NoError(t, tracker.Upload(context.Background(), contractDoc()))
	tracker.Reset()
	close(store.release)
	tracker.Wait()

	state := tracker.State()
	assert.Equal(t, StatusIdle, state.Status)
	assert.Nil(t, state.File)
	assert.Empty(t, state.ThinkingSteps)
	assert.Equal(t, []Status{StatusUploading, StatusIdle}, rec.statuses())
}

func TestTracker_UploadAfterCompletePassesThroughIdle(t *testing.T) {
	tracker := NewTracker(&fakeAnalyzer{result: &Result{}}, TrackerOptions{})
	require.NoError(t, tracker.Upload(context.Background(), contractDoc()))
	tracker.Wait()

	rec := &recorder{}
	tracker.OnChange(rec.record)
	require.NoError(t, tracker.Upload(context.Background(), contractDoc()))
	tracker.Wait()

	assert.Equal(t, []Status{StatusIdle, StatusUploading, StatusThinking, StatusAnalyzing, StatusComplete}, rec.statuses())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusIdle, StatusUploading))
	assert.True(t, CanTransition(StatusUploading, StatusThinking))
	assert.True(t, CanTransition(StatusThinking, StatusAnalyzing))
	assert.True(t, CanTransition(StatusAnalyzing, StatusComplete))
	assert.True(t, CanTransition(StatusThinking, StatusError))
	assert.True(t, CanTransition(StatusComplete, StatusIdle))
	assert.True(t, CanTransition(StatusError, StatusIdle))

	assert.False(t, CanTransition(StatusIdle, StatusThinking))
	assert.False(t, CanTransition(StatusIdle, StatusError))
	assert.False(t, CanTransition(StatusAnalyzing, StatusThinking))
	assert.False(t, CanTransition(StatusComplete, StatusUploading))
	assert.False(t, CanTransition(StatusError, StatusComplete))
}
