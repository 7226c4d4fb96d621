package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/logsage/logsage/internal/pkg/logger"
)

// Extractor implements rule-based query understanding over the static
// vocabularies. It has no side effects; the clock is injectable so time
// phrases resolve deterministically in tests.
type Extractor struct {
	log *logger.Logger
	now func() time.Time
}

// NewExtractor creates a new keyword-based query extractor.
func NewExtractor(log *logger.Logger) *Extractor {
	return &Extractor{
		log: log,
		now: time.Now,
	}
}

// NewExtractorAt creates an extractor with a fixed clock.
func NewExtractorAt(log *logger.Logger, now func() time.Time) *Extractor {
	return &Extractor{log: log, now: now}
}

// Parse extracts structured filters and an intent label from a question.
func (e *Extractor) Parse(question string) *Parsed {
	if strings.TrimSpace(question) == "" {
		return &Parsed{
			Original:   question,
			Intent:     IntentUnknown,
			Keywords:   []string{},
			Confidence: 0,
		}
	}

	normalized := normalizeQuery(question)
	keywords := extractKeywords(normalized)

	meta := Metadata{}
	meta.Start, meta.End = extractTimeRange(normalized, e.now())
	meta.Service = extractService(normalized)
	meta.Route = extractRoute(question)
	meta.ErrorCode = extractErrorCode(question)
	meta.HasError = containsAny(normalized, errorSignals) || meta.ErrorCode != ""

	latencyTerms := matchTerms(normalized, latencyKeywords)
	roleTerms, role := matchRoles(normalized)
	meta.UserRole = role

	intent := classifyIntent(normalized, keywords)
	confidence := calculateConfidence(intent, meta, len(keywords))

	result := &Parsed{
		Original:     question,
		Normalized:   normalized,
		Intent:       intent,
		Metadata:     meta,
		Keywords:     keywords,
		LatencyTerms: latencyTerms,
		RoleTerms:    roleTerms,
		Confidence:   confidence,
	}

	if e.log != nil {
		e.log.Debug("Parsed query",
			"intent", intent,
			"keywords", len(keywords),
			"has_error", meta.HasError,
			"confidence", confidence,
		)
	}

	return result
}

// normalizeQuery cleans and standardizes the question text.
func normalizeQuery(q string) string {
	normalized := strings.Join(strings.Fields(q), " ")
	normalized = strings.ToLower(normalized)
	return strings.TrimSpace(normalized)
}

// extractKeywords extracts important terms from the question.
func extractKeywords(q string) []string {
	words := strings.Fields(q)
	keywords := make([]string, 0, len(words))

	for _, word := range words {
		word = cleanWord(word)
		if len(word) < 2 || stopWords[word] {
			continue
		}
		keywords = append(keywords, word)
	}

	return keywords
}

// cleanWord removes punctuation from a word.
func cleanWord(word string) string {
	var cleaned strings.Builder
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '-' || r == '_' || r == '/' {
			cleaned.WriteRune(r)
		}
	}
	return cleaned.String()
}

// classifyIntent decides the question kind. Statistical signals win;
// otherwise a question is semantic only when it reads as natural language
// about log behavior, else unknown.
func classifyIntent(normalized string, keywords []string) Intent {
	if containsAny(normalized, statisticalSignals) {
		return IntentStatistical
	}

	if len(keywords) >= 2 && containsAny(normalized, logBehaviorTerms) {
		return IntentSemantic
	}

	return IntentUnknown
}

var (
	relativeRangeRe = regexp.MustCompile(`(?:last|past)\s+(\d+)\s+(minute|hour|day|week)s?`)
	serviceAfterRe  = regexp.MustCompile(`(?:^|\s)service\s+([a-z0-9][a-z0-9_-]*)`)
	serviceBeforeRe = regexp.MustCompile(`([a-z0-9][a-z0-9_-]*)\s+service\b`)
	errorCodeRe     = regexp.MustCompile(`\b([A-Z][A-Z0-9]*(?:_[A-Z0-9]+)+)\b`)
	httpStatusRe    = regexp.MustCompile(`\b([45]\d{2})\b`)
)

// extractTimeRange resolves relative time phrases against the clock.
// Day boundaries are computed in UTC.
func extractTimeRange(normalized string, now time.Time) (*time.Time, *time.Time) {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch {
	case strings.Contains(normalized, "yesterday"):
		start := midnight.Add(-24 * time.Hour)
		end := midnight
		return &start, &end

	case strings.Contains(normalized, "today"):
		start := midnight
		return &start, &now

	case strings.Contains(normalized, "last hour"), strings.Contains(normalized, "past hour"):
		start := now.Add(-time.Hour)
		return &start, &now

	case strings.Contains(normalized, "last week"), strings.Contains(normalized, "past week"):
		start := now.Add(-7 * 24 * time.Hour)
		return &start, &now
	}

	if m := relativeRangeRe.FindStringSubmatch(normalized); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return nil, nil
		}
		var unit time.Duration
		switch m[2] {
		case "minute":
			unit = time.Minute
		case "hour":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		case "week":
			unit = 7 * 24 * time.Hour
		}
		start := now.Add(-time.Duration(n) * unit)
		return &start, &now
	}

	return nil, nil
}

// extractService finds a service name via "X service" / "service X"
// phrasings or an explicit "-service" suffix.
func extractService(normalized string) string {
	// The explicit suffix form is unambiguous, so it wins over the
	// looser "service X" / "X service" phrasings.
	for _, word := range strings.Fields(normalized) {
		word = cleanWord(word)
		if strings.HasSuffix(word, "-service") && len(word) > len("-service") {
			return word
		}
	}
	if m := serviceAfterRe.FindStringSubmatch(normalized); m != nil {
		if !stopWords[m[1]] {
			return m[1]
		}
	}
	if m := serviceBeforeRe.FindStringSubmatch(normalized); m != nil {
		if !stopWords[m[1]] {
			return m[1]
		}
	}
	return ""
}

// extractRoute finds the first path-like token (preserving case).
func extractRoute(original string) string {
	for _, word := range strings.Fields(original) {
		trimmed := strings.Trim(word, `"'?,.()`)
		if strings.HasPrefix(trimmed, "/") && len(trimmed) > 1 {
			return trimmed
		}
	}
	return ""
}

// extractErrorCode finds an explicit error identifier: either an
// UPPER_SNAKE code or a 4xx/5xx status literal. Case matters, so it runs
// on the original text.
func extractErrorCode(original string) string {
	if m := errorCodeRe.FindStringSubmatch(original); m != nil {
		return m[1]
	}
	if m := httpStatusRe.FindStringSubmatch(original); m != nil {
		return m[1]
	}
	return ""
}

// matchTerms returns the vocabulary terms present in the question.
func matchTerms(normalized string, vocab []string) []string {
	var found []string
	for _, term := range vocab {
		if strings.Contains(normalized, term) {
			found = append(found, term)
		}
	}
	return found
}

// matchRoles returns the role terms present and the first canonical role.
func matchRoles(normalized string) ([]string, string) {
	var found []string
	role := ""
	for _, word := range strings.Fields(normalized) {
		word = cleanWord(word)
		if canonical, ok := roleKeywords[word]; ok {
			found = append(found, word)
			if role == "" {
				role = canonical
			}
		}
	}
	return found, role
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}

// calculateConfidence estimates parsing confidence.
func calculateConfidence(intent Intent, meta Metadata, keywordCount int) float64 {
	confidence := 0.5 // Base confidence

	if intent != IntentUnknown {
		confidence += 0.2
	}

	if meta.Start != nil || meta.Service != "" || meta.Route != "" {
		confidence += 0.1
	}

	if meta.HasError || meta.UserRole != "" {
		confidence += 0.1
	}

	if keywordCount >= 2 && keywordCount <= 8 {
		confidence += 0.1
	}

	if confidence > 1.0 {
		confidence = 1.0
	}

	return confidence
}
