package session

import "time"

// Layout holds the panel flags of the chat screen.
type Layout struct {
	ShowOnlyChatPanel  bool `json:"show_only_chat_panel"`
	LeftPanelCollapsed bool `json:"left_panel_collapsed"`
	RightPanelExpanded bool `json:"right_panel_expanded"`
	ShowComparison     bool `json:"show_comparison"`
}

func defaultLayout() Layout {
	return Layout{ShowOnlyChatPanel: true}
}

// Panel names accepted by Toggle.
const (
	PanelLeft       = "left"
	PanelRight      = "right"
	PanelComparison = "comparison"
)

// toggle applies one panel toggle. Collapsing the results panel expands the
// chat panel and the other way round.
func (l Layout) toggle(panel string) (Layout, bool) {
	switch panel {
	case PanelLeft:
		l.LeftPanelCollapsed = !l.LeftPanelCollapsed
		l.RightPanelExpanded = l.LeftPanelCollapsed
	case PanelRight:
		l.RightPanelExpanded = !l.RightPanelExpanded
		l.LeftPanelCollapsed = l.RightPanelExpanded
	case PanelComparison:
		l.ShowComparison = !l.ShowComparison
	default:
		return l, false
	}
	return l, true
}

// Greeting returns the salutation for the hour of t.
func Greeting(t time.Time) string {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return "Good morning"
	case h >= 12 && h < 18:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}
