package contract

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ericksa/docchat/internal/analysis"
)

// LLMCaller generates text from a prompt. The chat transports implement it.
type LLMCaller interface {
	Call(ctx context.Context, prompt string, systemPrompt string) (string, error)
}

// Analyzer handles legal document analysis. It implements analysis.Analyzer.
type Analyzer struct {
	llm    LLMCaller
	logger *slog.Logger
}

func NewAnalyzer(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{logger: logger}
}

// SetLLMCaller sets the LLM caller used to write summaries
func (a *Analyzer) SetLLMCaller(caller LLMCaller) {
	a.llm = caller
}

// Analyze extracts parties, key dates, clauses and risks from text.
func (a *Analyzer) Analyze(ctx context.Context, name, text string) (*analysis.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("document %s has no text", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parties := extractParties(text)
	clauses := extractClauses(text)
	risks := assessRisks(clauses)
	value, currency := extractValue(text)

	result := &analysis.Result{
		Parties:         partyNames(parties),
		KeyDates:        extractKeyDates(text),
		Clauses:         clauses,
		Risks:           risks,
		Recommendations: recommendations(risks),
		Value:           value,
		Currency:        currency,
	}

	result.Summary = generateSummary(name, result)
	if a.llm != nil {
		summary, err := a.llm.Call(ctx,
			fmt.Sprintf("Summarize this contract in 3-5 bullet points. Focus on: parties, key obligations, duration, and any unusual terms.\n\nContract:\n%s", text[:min(len(text), 8000)]),
			"You are a legal assistant summarizing contracts.")
		if err != nil {
			a.logger.Warn("llm summary failed, using extracted summary", "file", name, "error", err)
		} else if strings.TrimSpace(summary) != "" {
			result.Summary = strings.TrimSpace(summary)
		}
	}

	return result, nil
}

// Score returns 0-100 where lower means riskier.
func Score(risks []analysis.Risk) float64 {
	score := 100.0
	for _, r := range risks {
		switch r.Severity {
		case "critical":
			score -= 25
		case "high":
			score -= 15
		case "medium":
			score -= 5
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

func scoreToLevel(score float64) string {
	switch {
	case score >= 80:
		return "low"
	case score >= 60:
		return "medium"
	case score >= 40:
		return "high"
	default:
		return "critical"
	}
}

func overallRecommendation(score float64) string {
	switch scoreToLevel(score) {
	case "low":
		return "Standard contract terms. Proceed with standard review."
	case "medium":
		return "Some concerns identified. Recommend legal review of high-risk clauses."
	case "high":
		return "Multiple risk factors. Legal counsel review strongly recommended."
	default:
		return "Significant risks identified. Do not execute without legal review."
	}
}

func recommendations(risks []analysis.Risk) []string {
	out := []string{overallRecommendation(Score(risks))}
	seen := map[string]bool{}
	for _, r := range risks {
		if r.Recommendation == "" || seen[r.Recommendation] {
			continue
		}
		seen[r.Recommendation] = true
		out = append(out, r.Recommendation)
	}
	return out
}

func generateSummary(name string, r *analysis.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## %s\n\n", name)

	if len(r.Parties) > 0 {
		fmt.Fprintf(&b, "**Parties:** %s\n\n", strings.Join(r.Parties, ", "))
	}
	for _, d := range r.KeyDates {
		fmt.Fprintf(&b, "**%s:** %s\n", d.Description, d.Date.Format("Jan 2, 2006"))
	}
	if r.Value != nil {
		fmt.Fprintf(&b, "**Value:** %.2f %s\n", *r.Value, r.Currency)
	}

	fmt.Fprintf(&b, "\n**Clauses Found:** %d\n", len(r.Clauses))
	fmt.Fprintf(&b, "**Risks Identified:** %d\n", len(r.Risks))

	return b.String()
}

func sortKeyDates(dates []analysis.KeyDate) {
	sort.SliceStable(dates, func(i, j int) bool { return dates[i].Date.Before(dates[j].Date) })
}

var dateLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(strings.ReplaceAll(s, ".", "")), " ")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
