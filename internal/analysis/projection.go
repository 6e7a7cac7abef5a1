package analysis

// View is the read-only presentation of an analysis state.
type View struct {
	Title            string `json:"title"`
	Subtitle         string `json:"subtitle"`
	ProgressTitle    string `json:"progress_title,omitempty"`
	ProgressSubtitle string `json:"progress_subtitle,omitempty"`
	// ShowActions tells clients to offer "Compare Documents" and "New Analysis".
	ShowActions bool `json:"show_actions"`
	// ShowProgress is true while thinking steps should be displayed.
	ShowProgress bool `json:"show_progress"`
}

type labels struct {
	title, subtitle, progressTitle, progressSubtitle string
}

var statusLabels = map[Status]labels{
	StatusIdle:      {title: "Preview"},
	StatusUploading: {"Uploading Document...", "Please wait while we upload your document", "Uploading Document...", "Preparing your document for analysis"},
	StatusThinking:  {"Processing Document...", "AI is processing your document", "Processing Document...", "The AI is examining your document structure"},
	StatusAnalyzing: {"Analyzing Document...", "Extracting insights from your document", "Analyzing Content...", "Extracting key information and insights"},
	StatusComplete:  {title: "Analysis Results", subtitle: "Review the extracted information"},
	StatusError:     {title: "Analysis Error", subtitle: "Something went wrong during analysis"},
}

// Project maps a state to its labels. Unknown statuses produce an empty view.
func Project(s State) View {
	l := statusLabels[s.Status]
	return View{
		Title:            l.title,
		Subtitle:         l.subtitle,
		ProgressTitle:    l.progressTitle,
		ProgressSubtitle: l.progressSubtitle,
		ShowActions:      s.Status == StatusComplete,
		ShowProgress:     s.Status.Busy() && len(s.ThinkingSteps) > 0,
	}
}

// ErrorText returns the message to show for a failed analysis.
func ErrorText(s State) string {
	if s.Error != "" {
		return s.Error
	}
	return "Something went wrong during the analysis. Please try again."
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskModerate RiskLevel = "Moderate"
	RiskHigh     RiskLevel = "High"
)

// RiskSummary is the headline classification shown next to a result.
type RiskSummary struct {
	Level              RiskLevel `json:"level"`
	HighRiskClauses    int       `json:"high_risk_clauses"`
	SuggestedRevisions int       `json:"suggested_revisions"`
	ClauseCount        int       `json:"clause_count"`
	PartyCount         int       `json:"party_count"`
	KeyDateCount       int       `json:"key_date_count"`
}

// Assess derives the risk summary from the size of the result.
func Assess(r *Result) RiskSummary {
	if r == nil {
		return RiskSummary{Level: RiskLow}
	}
	n := len(r.Clauses)
	s := RiskSummary{
		Level:              RiskLow,
		SuggestedRevisions: n,
		ClauseCount:        n,
		PartyCount:         len(r.Parties),
		KeyDateCount:       len(r.KeyDates),
	}
	switch {
	case n > 2:
		s.Level, s.HighRiskClauses = RiskHigh, 2
	case n > 1:
		s.Level, s.HighRiskClauses = RiskModerate, 1
	}
	return s
}

// ClauseRisk labels the clause at position i the way the results panel
// ranks them: first High, second Moderate, the rest Low.
func ClauseRisk(i int) RiskLevel {
	switch i {
	case 0:
		return RiskHigh
	case 1:
		return RiskModerate
	}
	return RiskLow
}
