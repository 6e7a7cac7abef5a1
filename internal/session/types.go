package session

import (
	"context"
	"errors"
	"time"

	"github.com/ericksa/docchat/internal/analysis"
)

var (
	// ErrInputDisabled is returned when a chat turn or upload starts while
	// the previous one is still outstanding.
	ErrInputDisabled = errors.New("input is disabled")
	ErrEmptyMessage  = errors.New("message is empty")
	ErrNotFound      = errors.New("session not found")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	fallbackReply      = "Sorry, I encountered an error while processing your request. Please try again."
	completionReply    = "I've completed analyzing your document. You can see the results in the left panel. Feel free to ask me any questions about it."
	uploadAnnouncement = "Uploading document: %s"
)

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notice is a transient user-facing notification.
type Notice struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Variant     Variant   `json:"variant"`
	CreatedAt   time.Time `json:"created_at"`
}

var (
	noticeCommunication = Notice{Title: "Communication Error", Description: "Failed to connect to the AI agent system.", Variant: VariantDestructive}
	noticeUploadFailed  = Notice{Title: "Upload Failed", Description: "An error occurred while analyzing the document.", Variant: VariantDestructive}
	noticeComplete      = Notice{Title: "Analysis Complete", Description: "Document analysis has been completed successfully!", Variant: VariantDefault}
	noticeReset         = Notice{Title: "Conversation Reset", Description: "Started a new conversation", Variant: VariantDefault}
)

type EventType string

const (
	EventMessage EventType = "message"
	EventNotice  EventType = "notice"
	EventState   EventType = "state"
	EventReset   EventType = "reset"
	EventLayout  EventType = "layout"
)

// Event describes one change to a session. Exactly one payload field is set,
// none for EventReset.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	Message   *Message        `json:"message,omitempty"`
	Notice    *Notice         `json:"notice,omitempty"`
	State     *analysis.State `json:"state,omitempty"`
	Layout    *Layout         `json:"layout,omitempty"`
	Time      time.Time       `json:"time"`
}

// Snapshot is a consistent read of a session.
type Snapshot struct {
	ID                string         `json:"id"`
	Messages          []Message      `json:"messages"`
	ConversationToken string         `json:"conversation_token,omitempty"`
	InputDisabled     bool           `json:"input_disabled"`
	Layout            Layout         `json:"layout"`
	Analysis          analysis.State `json:"analysis"`
	PendingNotices    int            `json:"pending_notices"`
}

// Tracker is the analysis state owner a controller observes.
type Tracker interface {
	Upload(ctx context.Context, doc analysis.Document) error
	Reset()
	State() analysis.State
	OnChange(fn func(analysis.State))
}

// Recorder receives one entry per controller operation.
type Recorder interface {
	Record(operation, sessionID string, input, output any, err error)
}
