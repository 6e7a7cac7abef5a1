package contract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ericksa/docchat/internal/analysis"
)

// Known clause types to look for
var ClauseTypes = []string{
	"confidentiality",
	"non_disclosure",
	"termination",
	"payment",
	"limitation_of_liability",
	"liability",
	"indemnification",
	"force_majeure",
	"dispute_resolution",
	"arbitration",
	"intellectual_property",
	"non_compete",
	"non_solicitation",
	"warranty",
	"assignment",
	"governing_law",
	"data_protection",
	"insurance",
	"renewal",
	"license",
}

// charsPerPage approximates page numbers for text without page breaks.
const charsPerPage = 3000

type party struct {
	Name string
	Role string
}

var (
	partyBetween = regexp.MustCompile(`(?i)\bbetween\s+(.{2,80}?)(?:\s*\([^)]*\))?,?\s+and\s+(.{2,80}?)(?:\s*\([^)]*\))?(?:[;\n]|,\s+(?:a|an|each|both|collectively|hereinafter)\b|\.(?:\s|$)|$)`)
	partyDefined = regexp.MustCompile(`((?:[A-Z][\w&.,'-]*\s+){0,5}[A-Z][\w&.'-]*),?\s*\(\s*(?:the\s+)?["“]([^"”]+)["”]\s*\)`)
	partyLine    = regexp.MustCompile(`(?im)^\s*(?:party|parties)\s*:\s*(.+)$`)
	partySplit   = regexp.MustCompile(`\s*(?:;|\band\b|&)\s*`)
)

func extractParties(content string) []party {
	var parties []party

	for _, m := range partyBetween.FindAllStringSubmatch(content, -1) {
		parties = append(parties, party{Name: m[1], Role: "party_a"}, party{Name: m[2], Role: "party_b"})
	}
	for _, m := range partyDefined.FindAllStringSubmatch(content, -1) {
		parties = append(parties, party{Name: m[1], Role: partyRole(m[2])})
	}
	for _, m := range partyLine.FindAllStringSubmatch(content, -1) {
		for _, name := range partySplit.Split(m[1], -1) {
			parties = append(parties, party{Name: name})
		}
	}

	// Deduplicate, keeping the first role seen
	seen := make(map[string]int)
	var unique []party
	for _, p := range parties {
		p.Name = cleanPartyName(p.Name)
		if len(p.Name) < 2 || len(p.Name) > 100 || !startsUpper(p.Name) {
			continue
		}
		key := strings.ToLower(p.Name)
		if i, ok := seen[key]; ok {
			if unique[i].Role == "" || strings.HasPrefix(unique[i].Role, "party_") {
				if p.Role != "" && !strings.HasPrefix(p.Role, "party_") {
					unique[i].Role = p.Role
				}
			}
			continue
		}
		seen[key] = len(unique)
		unique = append(unique, p)
	}
	return unique
}

func partyRole(label string) string {
	lower := strings.ToLower(strings.TrimSpace(label))
	switch {
	case strings.Contains(lower, "client") || strings.Contains(lower, "customer"):
		return "client"
	case strings.Contains(lower, "vendor") || strings.Contains(lower, "supplier") || strings.Contains(lower, "provider"):
		return "vendor"
	case lower == "party a":
		return "party_a"
	case lower == "party b":
		return "party_b"
	}
	return strings.ReplaceAll(lower, " ", "_")
}

func cleanPartyName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	name = strings.TrimLeft(name, " ,;")
	name = strings.TrimRight(name, " ,;:.")
	for _, prefix := range []string{"the ", "The "} {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}

func startsUpper(s string) bool {
	if s == "" {
		return false
	}
	return (s[0] >= 'A' && s[0] <= 'Z') || (s[0] >= '0' && s[0] <= '9')
}

func partyNames(parties []party) []string {
	names := make([]string, 0, len(parties))
	for _, p := range parties {
		names = append(names, p.Name)
	}
	return names
}

const datePattern = `(\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{2}-\d{2}|(?:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)\.?\s+\d{1,2},?\s+\d{4}|\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4})`

var keyDatePatterns = []struct {
	Description string
	re          *regexp.Regexp
}{
	{"Effective Date", regexp.MustCompile(`(?i)(?:effective|commenc\w*|start)(?:\s+date)?(?:\s+(?:is|of|on|as of|from))?\s*:?\s*` + datePattern)},
	{"Expiration Date", regexp.MustCompile(`(?i)(?:expir\w*|end\s+date|terminat\w*\s+date|until|through)(?:\s+(?:is|on|of))?\s*:?\s*` + datePattern)},
	{"Renewal Date", regexp.MustCompile(`(?i)renew\w*(?:\s+date)?(?:\s+(?:is|on|of))?\s*:?\s*` + datePattern)},
	{"Payment Due", regexp.MustCompile(`(?i)payments?\s+(?:is\s+|are\s+)?due(?:\s+(?:on|by))?\s*:?\s*` + datePattern)},
	{"Signature Date", regexp.MustCompile(`(?i)(?:signed|executed|dated)(?:\s+(?:on|as of))?\s*:?\s*` + datePattern)},
}

var relativeTerm = regexp.MustCompile(`(?i)(\d+)\s+(years?|months?)\s+(?:from|after)\s+(?:the\s+)?effective\s+date`)

// extractKeyDates finds labelled dates and returns them in calendar order.
func extractKeyDates(content string) []analysis.KeyDate {
	var dates []analysis.KeyDate
	found := map[string]time.Time{}

	for _, p := range keyDatePatterns {
		m := p.re.FindStringSubmatch(content)
		if len(m) < 2 {
			continue
		}
		t, ok := parseDate(strings.TrimSuffix(m[1], "."))
		if !ok {
			continue
		}
		found[p.Description] = t
		dates = append(dates, analysis.KeyDate{Description: p.Description, Date: t})
	}

	// "for 2 years from the effective date"
	if effective, ok := found["Effective Date"]; ok {
		if _, ok := found["Expiration Date"]; !ok {
			if m := relativeTerm.FindStringSubmatch(content); len(m) > 2 {
				n, _ := strconv.Atoi(m[1])
				expiry := effective.AddDate(n, 0, 0)
				if strings.HasPrefix(strings.ToLower(m[2]), "month") {
					expiry = effective.AddDate(0, n, 0)
				}
				dates = append(dates, analysis.KeyDate{Description: "Expiration Date", Date: expiry})
			}
		}
	}

	sortKeyDates(dates)
	return dates
}

var currencyPatterns = []struct {
	re       *regexp.Regexp
	Currency string
}{
	{regexp.MustCompile(`\$\s*(\d[\d,]*(?:\.\d{2})?)`), "USD"},
	{regexp.MustCompile(`(?i)USD\s*(\d[\d,]*(?:\.\d{2})?)`), "USD"},
	{regexp.MustCompile(`€\s*(\d[\d,]*(?:\.\d{2})?)`), "EUR"},
	{regexp.MustCompile(`(?i)EUR\s*(\d[\d,]*(?:\.\d{2})?)`), "EUR"},
	{regexp.MustCompile(`£\s*(\d[\d,]*(?:\.\d{2})?)`), "GBP"},
	{regexp.MustCompile(`(?i)GBP\s*(\d[\d,]*(?:\.\d{2})?)`), "GBP"},
}

func extractValue(content string) (*float64, string) {
	for _, cp := range currencyPatterns {
		m := cp.re.FindStringSubmatch(content)
		if len(m) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err == nil && value > 0 {
			return &value, cp.Currency
		}
	}
	return nil, ""
}

type clausePattern struct {
	clauseType string
	res        []*regexp.Regexp
}

var clausePatterns = buildClausePatterns()

func buildClausePatterns() []clausePattern {
	out := make([]clausePattern, 0, len(ClauseTypes))
	for _, clauseType := range ClauseTypes {
		words := strings.ReplaceAll(regexp.QuoteMeta(clauseType), "_", `[\s_-]+`)
		out = append(out, clausePattern{
			clauseType: clauseType,
			res: []*regexp.Regexp{
				regexp.MustCompile(fmt.Sprintf(`(?i)(?:article|section|clause)\s+\d+(?:\.\d+)*[.:\s]+(%s)[.:\s]+([^\n\f]{50,500})`, words)),
				regexp.MustCompile(fmt.Sprintf(`(?i)\b(%s)\b[.:\s]+([^\n\f]{50,500})`, words)),
			},
		})
	}
	return out
}

type located struct {
	clause analysis.Clause
	start  int
}

// extractClauses finds paragraphs introduced by a known clause heading and
// returns them in document order.
func extractClauses(content string) []analysis.Clause {
	var found []located
	seen := map[string]bool{}

	for _, cp := range clausePatterns {
		for _, re := range cp.res {
			for _, idx := range re.FindAllStringSubmatchIndex(content, -1) {
				body := strings.TrimSpace(content[idx[4]:idx[5]])
				if seen[body] {
					continue
				}
				seen[body] = true
				found = append(found, located{
					clause: analysis.Clause{
						Title:     clauseTitle(cp.clauseType),
						Page:      pageAt(content, idx[0]),
						Content:   body,
						Type:      cp.clauseType,
						RiskLevel: assessClauseRisk(body),
					},
					start: idx[0],
				})
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].start < found[j].start })
	clauses := make([]analysis.Clause, 0, len(found))
	for _, f := range found {
		clauses = append(clauses, f.clause)
	}
	return clauses
}

func clauseTitle(clauseType string) string {
	words := strings.Fields(strings.ReplaceAll(clauseType, "_", " "))
	for i, w := range words {
		switch w {
		case "of", "and":
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// pageAt returns the 1-based page holding offset.
func pageAt(content string, offset int) int {
	if strings.Contains(content, analysis.PageBreak) {
		return strings.Count(content[:offset], analysis.PageBreak) + 1
	}
	return offset/charsPerPage + 1
}

var highRiskClauses = map[string]string{
	"liability":               "Unlimited liability exposure",
	"indemnification":         "Broad indemnification obligations",
	"limitation_of_liability": "Liability may be overly restricted",
	"non_compete":             "Restrictive non-compete terms",
	"termination":             "One-sided termination rights",
	"intellectual_property":   "IP rights may be assigned away",
	"renewal":                 "Automatic renewal may lock in the agreement",
}

var clauseRecommendations = map[string]string{
	"liability":               "Negotiate cap on liability, include mutual clauses",
	"indemnification":         "Limit to direct damages, add carve-outs",
	"limitation_of_liability": "Ensure adequate cap, preserve certain rights",
	"non_compete":             "Narrow scope and duration, limit geography",
	"termination":             "Add termination for convenience, cure periods",
	"intellectual_property":   "Ensure license scope is appropriate, reverify IP ownership",
	"renewal":                 "Require written notice before renewal",
}

func assessRisks(clauses []analysis.Clause) []analysis.Risk {
	var risks []analysis.Risk
	for _, clause := range clauses {
		reason, ok := highRiskClauses[clause.Type]
		if !ok {
			continue
		}
		rec, ok := clauseRecommendations[clause.Type]
		if !ok {
			rec = "Review with legal counsel"
		}
		risks = append(risks, analysis.Risk{
			Description:    reason,
			Severity:       clause.RiskLevel,
			Recommendation: rec,
			ClauseRef:      clause.Type,
		})
	}
	return risks
}

var (
	highRiskKeywords   = []string{"unlimited", "sole", "exclusive", "waive", "forever", "irrevocable"}
	mediumRiskKeywords = []string{"may", "reasonable", "unless", "subject to"}
)

func assessClauseRisk(content string) string {
	lower := strings.ToLower(content)
	if countKeywords(lower, highRiskKeywords) >= 2 {
		return "high"
	}
	if countKeywords(lower, mediumRiskKeywords) >= 2 {
		return "medium"
	}
	return "low"
}

func countKeywords(s string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			n++
		}
	}
	return n
}
