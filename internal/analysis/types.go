package analysis

import (
	"errors"
	"time"
)

// Status is the lifecycle position of a document analysis.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusUploading Status = "uploading"
	StatusThinking  Status = "thinking"
	StatusAnalyzing Status = "analyzing"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
)

var (
	// ErrUpload is wrapped by every upload rejection and pipeline failure.
	ErrUpload = errors.New("upload failed")
	// ErrBusy is returned when an upload starts while another is in flight.
	ErrBusy = errors.New("analysis already in progress")
)

// Busy reports whether the status belongs to an in-flight upload.
func (s Status) Busy() bool {
	return s == StatusUploading || s == StatusThinking || s == StatusAnalyzing
}

// Terminal reports whether only a reset can leave the status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

var transitions = map[Status][]Status{
	StatusIdle:      {StatusUploading},
	StatusUploading: {StatusThinking, StatusError},
	StatusThinking:  {StatusAnalyzing, StatusError},
	StatusAnalyzing: {StatusComplete, StatusError},
}

// CanTransition reports whether the pipeline may move from one status to
// the next. Returning to idle is always allowed since it is what reset does.
func CanTransition(from, to Status) bool {
	if to == StatusIdle {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Document is an uploaded file as received from a client.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// FileInfo describes the stored copy of an uploaded document.
type FileInfo struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	ObjectKey   string    `json:"object_key,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type KeyDate struct {
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
}

type Clause struct {
	Title     string `json:"title"`
	Page      int    `json:"page"`
	Content   string `json:"content"`
	Type      string `json:"type,omitempty"`
	RiskLevel string `json:"risk_level,omitempty"`
}

type Risk struct {
	Description    string `json:"description"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`
	ClauseRef      string `json:"clause_ref,omitempty"`
}

// Result is the structured outcome of analyzing one document.
type Result struct {
	Summary         string    `json:"summary"`
	Parties         []string  `json:"parties"`
	KeyDates        []KeyDate `json:"key_dates"`
	Clauses         []Clause  `json:"clauses"`
	Risks           []Risk    `json:"risks,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
	Value           *float64  `json:"value,omitempty"`
	Currency        string    `json:"currency,omitempty"`
}

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepComplete StepStatus = "complete"
)

// ThinkingStep is one entry of the progress indicator shown while a
// document is processed.
type ThinkingStep struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
}

// State is the single analysis state of a session. Values handed out by the
// tracker are copies and safe to keep.
type State struct {
	Status        Status         `json:"status"`
	File          *FileInfo      `json:"file,omitempty"`
	Result        *Result        `json:"result,omitempty"`
	ThinkingSteps []ThinkingStep `json:"thinking_steps"`
	FollowUps     []string       `json:"follow_ups,omitempty"`
	Error         string         `json:"error,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (s State) clone() State {
	out := s
	out.ThinkingSteps = make([]ThinkingStep, len(s.ThinkingSteps))
	copy(out.ThinkingSteps, s.ThinkingSteps)
	out.FollowUps = append([]string(nil), s.FollowUps...)
	if s.File != nil {
		f := *s.File
		out.File = &f
	}
	if s.Result != nil {
		r := *s.Result
		out.Result = &r
	}
	return out
}
