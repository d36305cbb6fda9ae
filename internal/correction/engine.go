// Package correction scores a recited transcript against canonical Quranic
// text and produces actionable feedback.
//
// [Engine.Correct] is a pure function of its inputs: resolve the reference,
// normalize both texts, compute a Levenshtein-based similarity, then derive
// score, word-level issues, suggestions, and a feedback band. Session
// summaries are kept in a bounded, store-persisted [History].
package correction

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/adnsalim/murattil/internal/quran"
)

// DefaultThreshold is the score at and above which a recitation counts as
// correct.
const DefaultThreshold = 85

// MatchedReference carries the resolved canonical text and how closely the
// recitation matched it.
type MatchedReference struct {
	// Text is the canonical text the recitation was scored against. Empty
	// when the reference could not be resolved.
	Text string `json:"text"`

	// Similarity is the normalized inverse edit distance in [0, 1].
	Similarity float64 `json:"similarity"`

	// Issues lists word-level differences in reference order: a length
	// delta first, then missing words, then extra words.
	Issues []string `json:"issues"`
}

// Result is the outcome of scoring one recitation.
type Result struct {
	Score            int              `json:"score"`
	Correct          bool             `json:"correct"`
	MatchedReference MatchedReference `json:"matched_reference"`
	Suggestions      []string         `json:"suggestions"`
	Feedback         string           `json:"feedback"`
}

// Fixed user-facing strings. Issue strings embed the offending word;
// everything else is selected verbatim.
const (
	suggestionRefNotFound = "The requested passage could not be found. Check the surah and ayah numbers."
	suggestionTryAgain    = "No recitation detected. Try again and recite clearly."
	suggestionAffirmative = "Excellent recitation. Keep it up."
	suggestionListen      = "Listen to a qari recite this passage and repeat after them."
	suggestionSlow        = "Practice slowly, focusing on the pronunciation of each word."
	suggestionRepeat      = "Repeat the passage until it flows naturally."
	suggestionMissing     = "Review the reference text; some words were not recited."
	suggestionExtra       = "Stick to the reference text; avoid adding words."

	feedbackFailure    = "The recitation could not be scored."
	feedbackExcellent  = "Excellent! Your recitation matches the reference."
	feedbackVeryGood   = "Very good recitation with only minor differences."
	feedbackGood       = "Good effort. A few corrections are needed."
	feedbackAcceptable = "Acceptable. Keep practicing this passage."
	feedbackPractice   = "This passage needs more practice. Take it slowly."
)

// Engine scores recitations against a [quran.Lookup].
//
// Safe for concurrent use. The threshold may be changed at runtime via
// [Engine.SetThreshold] (config hot reload); everything else is immutable.
type Engine struct {
	lookup    quran.Lookup
	threshold atomic.Int32
}

// EngineOption is a functional option for configuring an [Engine].
type EngineOption func(*Engine)

// WithThreshold overrides the correctness threshold. Default: 85.
func WithThreshold(score int) EngineOption {
	return func(e *Engine) {
		if score > 0 {
			e.threshold.Store(int32(score))
		}
	}
}

// NewEngine creates a correction engine over the given lookup.
func NewEngine(lookup quran.Lookup, opts ...EngineOption) *Engine {
	e := &Engine{lookup: lookup}
	e.threshold.Store(DefaultThreshold)
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetThreshold updates the correctness threshold. Out-of-range values are
// ignored. In-flight corrections keep the threshold they started with.
func (e *Engine) SetThreshold(score int) {
	if score > 0 && score <= 100 {
		e.threshold.Store(int32(score))
	}
}

// Correct scores recorded against the canonical text of ref. An unresolvable
// reference yields a zero-score result with a single explanatory suggestion,
// never an error.
func (e *Engine) Correct(ctx context.Context, ref quran.Reference, recorded string) Result {
	canonical, found, err := e.lookup.Resolve(ctx, ref)
	if err != nil {
		slog.Warn("reference resolve failed", "ref", ref.String(), "err", err)
	}
	if err != nil || !found {
		return Result{
			MatchedReference: MatchedReference{Issues: []string{}},
			Suggestions:      []string{suggestionRefNotFound},
			Feedback:         feedbackFailure,
		}
	}

	normRecorded := Normalize(recorded)
	normCanonical := Normalize(canonical)

	similarity := Similarity(normRecorded, normCanonical)
	score := int(math.Round(similarity * 100))
	correct := score >= int(e.threshold.Load())

	issues := detectIssues(recorded, canonical)

	return Result{
		Score:   score,
		Correct: correct,
		MatchedReference: MatchedReference{
			Text:       canonical,
			Similarity: similarity,
			Issues:     issues,
		},
		Suggestions: buildSuggestions(recorded, issues),
		Feedback:    feedbackFor(score),
	}
}

// Similarity computes the normalized inverse Levenshtein distance between
// two already-normalized strings, clamped into [0, 1]. Identical strings
// short-circuit to 1; if either string is empty the similarity is 0.
func Similarity(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	lenA, lenB := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if lenA == 0 || lenB == 0 {
		return 0
	}
	distance := matchr.Levenshtein(a, b)
	similarity := 1 - float64(distance)/float64(max(lenA, lenB))
	return math.Min(1, math.Max(0, similarity))
}

// detectIssues compares the un-normalized texts. Word membership is
// presence-only: duplicate occurrences are not counted.
func detectIssues(recorded, canonical string) []string {
	issues := []string{}

	recLen, canLen := utf8.RuneCountInString(recorded), utf8.RuneCountInString(canonical)
	if recLen != canLen {
		issues = append(issues, fmt.Sprintf(
			"Recited text length differs from the reference (%d vs %d characters).", recLen, canLen))
	}

	recWords := strings.Fields(recorded)
	canWords := strings.Fields(canonical)
	recSet := wordSet(recWords)
	canSet := wordSet(canWords)

	// Each distinct word is reported at most once.
	reportedMissing := make(map[string]struct{})
	for _, w := range canWords {
		if _, ok := recSet[w]; ok {
			continue
		}
		if _, done := reportedMissing[w]; done {
			continue
		}
		reportedMissing[w] = struct{}{}
		issues = append(issues, fmt.Sprintf("Missing word: %q.", w))
	}
	reportedExtra := make(map[string]struct{})
	for _, w := range recWords {
		if _, ok := canSet[w]; ok {
			continue
		}
		if _, done := reportedExtra[w]; done {
			continue
		}
		reportedExtra[w] = struct{}{}
		issues = append(issues, fmt.Sprintf("Extra word: %q.", w))
	}
	return issues
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// buildSuggestions derives the suggestion list from the issues. An empty
// recitation gets exactly one retry prompt; a flawless one gets exactly one
// affirmation.
func buildSuggestions(recorded string, issues []string) []string {
	if strings.TrimSpace(recorded) == "" {
		return []string{suggestionTryAgain}
	}
	if len(issues) == 0 {
		return []string{suggestionAffirmative}
	}

	suggestions := []string{suggestionListen, suggestionSlow, suggestionRepeat}
	if containsPrefix(issues, "Missing word") {
		suggestions = append(suggestions, suggestionMissing)
	}
	if containsPrefix(issues, "Extra word") {
		suggestions = append(suggestions, suggestionExtra)
	}
	return suggestions
}

func containsPrefix(issues []string, prefix string) bool {
	for _, issue := range issues {
		if strings.HasPrefix(issue, prefix) {
			return true
		}
	}
	return false
}

// feedbackFor selects the feedback band. Bands have inclusive lower bounds.
func feedbackFor(score int) string {
	switch {
	case score >= 95:
		return feedbackExcellent
	case score >= 85:
		return feedbackVeryGood
	case score >= 70:
		return feedbackGood
	case score >= 50:
		return feedbackAcceptable
	default:
		return feedbackPractice
	}
}
