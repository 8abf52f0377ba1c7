// Package briefparser extracts a self-reported confidence score, gap
// declarations, and analysis prose out of a compression model's free-form
// text response.
//
// The model is asked for a strict output format but never reliably
// produces it — this parser exists to absorb that variance: structured
// "confidence_score: 0.85" lines, natural language ("I'm 84% confident"),
// bare decimals, multiple [GAP] markers, and "None identified" in a few
// spellings. Go's RE2 engine has no lookaround, so markers that the
// original lookahead/lookbehind regexes relied on are resolved by hand
// against marker positions instead.
package briefparser

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"scout.dev/scout/common/logger"
)

// ErrEmpty is returned when the raw output is blank.
var ErrEmpty = errors.New("briefparser: empty output")

// ErrHallucinated is returned when the model reports a confidence score
// above 1.0 — an impossible value that signals the model fabricated its
// own calibration rather than grounding it in the rubric.
var ErrHallucinated = errors.New("briefparser: hallucinated calibration")

var (
	structuredConfidenceRE = regexp.MustCompile(`(?i)confidence_score\s*[:=]\s*([\d.]+)`)
	naturalConfidenceRE    = regexp.MustCompile(`(?i)(?:i'm|i am|confidence)\s*(?:about\s*)?(\d{1,3})\s*%?(?:\s*confident)?`)
	bareDecimalRE          = regexp.MustCompile(`0\.\d{2,}`)

	gapMarkerRE            = regexp.MustCompile(`(?i)\[GAP\]`)
	noneIdentifiedStrictRE = regexp.MustCompile(`(?i)None\s+identified\s*(?:—|–|-)\s*verified\s+coverage\s+of\s+(\d+)\s+symbols`)
	noneIdentifiedLooseRE  = regexp.MustCompile(`(?i)None\s+identified`)
)

// Result is a parsed brief.
type Result struct {
	Confidence         float64
	Analysis           string
	Gaps               []string
	HasGapsDeclaration bool
	// Suspicious is true when the output declares neither a gap nor
	// "None identified" — a shape the rubric never allows from a model
	// that followed instructions.
	Suspicious bool
}

// Parser parses raw compression-model output. The zero value is ready to
// use.
type Parser struct{}

// New returns a ready Parser.
func New() *Parser { return &Parser{} }

// Parse extracts a Result from raw model output.
func (p *Parser) Parse(raw string) (Result, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Result{}, ErrEmpty
	}

	score, analysisStart := parseConfidence(text)
	if score > 1.0 {
		return Result{}, ErrHallucinated
	}
	score = clamp(score, 0.0, 1.0)

	gaps := extractGaps(text)
	hasNoneIdentified := noneIdentifiedStrictRE.MatchString(text) || noneIdentifiedLooseRE.MatchString(text)
	hasGapsDeclaration := len(gaps) > 0 || hasNoneIdentified
	suspicious := !hasGapsDeclaration

	return Result{
		Confidence:         score,
		Analysis:           extractAnalysis(text, analysisStart),
		Gaps:               gaps,
		HasGapsDeclaration: hasGapsDeclaration,
		Suspicious:         suspicious,
	}, nil
}

// parseConfidence tries, in order: a structured "confidence_score: X"
// line, natural-language percentage phrasing, then a bare decimal not
// adjacent to other digits. Failing all three, it returns 0.0, which
// drives the caller to escalate rather than trust an unparseable brief.
func parseConfidence(text string) (float64, int) {
	if m := structuredConfidenceRE.FindStringSubmatchIndex(text); m != nil {
		score, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
		if err == nil {
			return score, m[1]
		}
	}
	if m := naturalConfidenceRE.FindStringSubmatchIndex(text); m != nil {
		pct, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
		if err == nil {
			return pct / 100.0, m[1]
		}
	}
	if start, end, ok := findBareDecimal(text); ok {
		score, err := strconv.ParseFloat(text[start:end], 64)
		if err == nil {
			return score, end
		}
	}

	snippet := logger.Truncate(strings.ReplaceAll(text, "\n", " "), 200)
	slog.Warn("briefparser: confidence parse failed, escalating", "snippet", snippet)
	return 0.0, 0
}

// findBareDecimal locates a "0.NN" run not immediately preceded by a word
// character and not immediately followed by another digit — the manual
// equivalent of the original (?<!\w)(0\.\d{2,})(?!\d) lookaround.
func findBareDecimal(text string) (start, end int, ok bool) {
	for _, m := range bareDecimalRE.FindAllStringIndex(text, -1) {
		s, e := m[0], m[1]
		if s > 0 && isWordByte(text[s-1]) {
			continue
		}
		if e < len(text) && isDigitByte(text[e]) {
			continue
		}
		return s, e, true
	}
	return 0, 0, false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isDigitByte(b byte) bool {
	return b >= '0' && b <= '9'
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// extractGaps returns the text following each [GAP] marker up to the
// next marker, the next "None identified", or the end of the string.
func extractGaps(text string) []string {
	markers := gapMarkerRE.FindAllStringIndex(text, -1)
	if len(markers) == 0 {
		return nil
	}

	var gaps []string
	for i, marker := range markers {
		contentStart := marker[1]
		contentEnd := len(text)
		if i+1 < len(markers) {
			contentEnd = markers[i+1][0]
		}
		if none := noneIdentifiedLooseRE.FindStringIndex(text[contentStart:]); none != nil {
			if absolute := contentStart + none[0]; absolute < contentEnd {
				contentEnd = absolute
			}
		}
		if contentStart >= contentEnd {
			continue
		}
		content := strings.TrimSpace(text[contentStart:contentEnd])
		if content != "" {
			gaps = append(gaps, content)
		}
	}
	return gaps
}

// extractAnalysis returns the prose between the confidence line and the
// first gap marker or "None identified" declaration.
func extractAnalysis(text string, analysisStart int) string {
	start := analysisStart
	end := len(text)

	gapPos := -1
	if idx := strings.Index(text[start:], "[GAP]"); idx >= 0 {
		gapPos = start + idx
	}

	nonePos := end + 1
	if m := noneIdentifiedLooseRE.FindStringIndex(text[start:]); m != nil {
		nonePos = start + m[0]
	}

	if gapPos >= start {
		end = min(end, gapPos)
	}
	if nonePos <= len(text) {
		end = min(end, nonePos)
	}
	if start >= end {
		return ""
	}
	return strings.TrimSpace(text[start:end])
}

// BuildConfidencePrompt stabilizes the compression prompt by naming the
// symbols the answer must cover: CamelCase and UPPER_SNAKE tokens pulled
// from the question, plus any explicit query symbols, are listed as
// "critical symbols" so the model can't silently drop coverage of one.
func BuildConfidencePrompt(question string, querySymbols []string) string {
	critical := make(map[string]struct{})

	for i, ref := range querySymbols {
		if i >= 15 {
			break
		}
		if path, symbol, found := strings.Cut(ref, "::"); found {
			if symbol != "" {
				critical[symbol] = struct{}{}
			}
			critical[stemOf(path)] = struct{}{}
		} else {
			critical[ref] = struct{}{}
		}
	}

	for _, m := range camelOrUpperSnakeRE.FindAllString(question, -1) {
		critical[m] = struct{}{}
	}

	block := ""
	if len(critical) > 0 {
		names := make([]string, 0, len(critical))
		for name := range critical {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) > 20 {
			names = names[:20]
		}
		var b strings.Builder
		b.WriteString("CRITICAL SYMBOLS FOR THIS QUERY:\n")
		for _, n := range names {
			fmt.Fprintf(&b, "- %s\n", n)
		}
		block = b.String()
	}

	return fmt.Sprintf(confidencePromptTemplate, block)
}

var camelOrUpperSnakeRE = regexp.MustCompile(`[A-Z][a-z]+(?:[A-Z][a-z]+)*|[A-Z][A-Z0-9_]{2,}`)

func stemOf(path string) string {
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	return strings.TrimSuffix(base, ".go")
}

const confidencePromptTemplate = `You are a codebase analyst. Answer based ONLY on provided context.

REQUIRED OUTPUT FORMAT (STRICT — NO DEVIATIONS):
confidence_score: X.XX
<analysis paragraph>
[GAP] <gap description> OR None identified — verified coverage of N symbols

RULES:
- confidence_score MUST be a float between 0.00 and 1.00
- confidence_score MUST reflect ONLY what's in context (no guessing)
- If ANY critical symbol missing → confidence <= 0.70
- If context truncated → confidence <= 0.65
- If all symbols present AND context complete → confidence >= 0.80
- NEVER say "I think" or "probably" — state confidence numerically ONLY

%s`
