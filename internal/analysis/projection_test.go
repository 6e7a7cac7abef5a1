package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProject(t *testing.T) {
	tests := []struct {
		state       State
		title       string
		subtitle    string
		showActions bool
	}{
		{State{Status: StatusIdle}, "Preview", "", false},
		{State{Status: StatusUploading}, "Uploading Document...", "Please wait while we upload your document", false},
		{State{Status: StatusThinking}, "Processing Document...", "AI is processing your document", false},
		{State{Status: StatusAnalyzing}, "Analyzing Document...", "Extracting insights from your document", false},
		{State{Status: StatusComplete}, "Analysis Results", "Review the extracted information", true},
		{State{Status: StatusError}, "Analysis Error", "Something went wrong during analysis", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state.Status), func(t *testing.T) {
			v := Project(tt.state)
			assert.Equal(t, tt.title, v.Title)
			assert.Equal(t, tt.subtitle, v.Subtitle)
			assert.Equal(t, tt.showActions, v.ShowActions)
		})
	}
}

func TestProject_UnknownStatusIsEmpty(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.Equal(t, View{}, Project(State{Status: "exploded"}))
	})
}

func TestProject_ShowProgressNeedsSteps(t *testing.T) {
	assert.False(t, Project(State{Status: StatusThinking}).ShowProgress)
	assert.True(t, Project(State{Status: StatusThinking, ThinkingSteps: []ThinkingStep{{ID: "read"}}}).ShowProgress)
	assert.False(t, Project(State{Status: StatusComplete, ThinkingSteps: []ThinkingStep{{ID: "read"}}}).ShowProgress)
	assert.Equal(t, "Analyzing Content...", Project(State{Status: StatusAnalyzing}).ProgressTitle)
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "boom", ErrorText(State{Status: StatusError, Error: "boom"}))
	assert.Contains(t, ErrorText(State{Status: StatusError}), "Please try again")
}

func TestAssess(t *testing.T) {
	clauses := func(n int) *Result { return &Result{Clauses: make([]Clause, n)} }

	assert.Equal(t, RiskSummary{Level: RiskLow}, Assess(nil))

	low := Assess(clauses(1))
	assert.Equal(t, RiskLow, low.Level)
	assert.Equal(t, 0, low.HighRiskClauses)
	assert.Equal(t, 1, low.SuggestedRevisions)

	moderate := Assess(clauses(2))
	assert.Equal(t, RiskModerate, moderate.Level)
	assert.Equal(t, 1, moderate.HighRiskClauses)

	high := Assess(clauses(5))
	assert.Equal(t, RiskHigh, high.Level)
	assert.Equal(t, 2, high.HighRiskClauses)
	assert.Equal(t, 5, high.SuggestedRevisions)
}

func TestClauseRisk(t *testing.T) {
	assert.Equal(t, RiskHigh, ClauseRisk(0))
	assert.Equal(t, RiskModerate, ClauseRisk(1))
	assert.Equal(t, RiskLow, ClauseRisk(7))
}
