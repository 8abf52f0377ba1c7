// Package gate implements the Middle-Manager Gate: a retry-bounded state
// machine that decides whether a fact bundle can be safely compressed
// into a short answer, or must be escalated to the raw facts themselves.
//
// Tier 1 is a deterministic freshness short-circuit against the
// dependency graph. Tier 2 calls a mid-tier LLM to compress the bundle
// and parses its self-reported confidence. Tier 3 enforces a confidence
// threshold, retrying with one bounded context expansion before giving
// up and escalating.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"scout.dev/scout/common/logger"
	"scout.dev/scout/core/config"
	"scout.dev/scout/internal/audit"
	"scout.dev/scout/internal/briefparser"
	"scout.dev/scout/internal/facts"
	"scout.dev/scout/internal/llm"
	"scout.dev/scout/internal/rawbrief"
	"scout.dev/scout/internal/scoutid"
)

// maxExpandedContext bounds how large current_context can grow across
// expansion rounds, roughly 10K tokens at 4 chars/token. It exists solely
// to stop a runaway expansion loop from exploding the next prompt.
const maxExpandedContext = 40_000

const compressionSystemPrompt = "You output structured responses. Always include confidence_score and gaps."

// Decision is the gate's verdict.
type Decision string

const (
	DecisionPass     Decision = "pass"
	DecisionEscalate Decision = "escalate"
)

// Source names where a decision's content came from.
type Source string

const (
	SourceCompressed Source = "compressed"
	SourceRawFacts   Source = "raw_facts"
	SourceRawTLDR    Source = "raw_tldr"
)

// Result is the outcome of a ValidateAndCompress call.
type Result struct {
	Decision           Decision
	Content            string
	Confidence         *float64
	Gaps               []string
	Source             Source
	Suspicious         bool
	Attempt            int
	HasGapsDeclaration bool
	ExpandedSymbols    []string
	InitialConfidence  *float64
	CostUSD            float64
}

// Config tunes the gate's retry and confidence behavior.
type Config struct {
	ConfidenceThreshold float64
	MaxAttempts         int
	Model               string
}

// DefaultConfig returns the spec's defaults: 0.75 confidence threshold,
// at most 3 attempts in total, the 70B compression model.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.75,
		MaxAttempts:         3,
		Model:               "llama-3.3-70b-versatile",
	}
}

// Gate is the Middle-Manager Gate. It is safe for concurrent use — its
// only mutable collaborators (the audit log, the raw-brief store) are
// themselves concurrency-safe.
type Gate struct {
	cfg       Config
	llm       llm.Client
	audit     *audit.Log
	rawBriefs *rawbrief.Store
	parser    *briefparser.Parser
}

// New builds a Gate. cfg's zero fields are replaced with DefaultConfig's.
func New(cfg Config, llmClient llm.Client, auditLog *audit.Log, rawBriefs *rawbrief.Store) *Gate {
	defaults := DefaultConfig()
	if cfg.ConfidenceThreshold == 0 {
		cfg.ConfidenceThreshold = defaults.ConfidenceThreshold
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	return &Gate{cfg: cfg, llm: llmClient, audit: auditLog, rawBriefs: rawBriefs, parser: briefparser.New()}
}

// ConfigFrom maps the process-wide Scout config onto the gate's own Config,
// so a caller that assembled a config.Config from the environment doesn't
// have to restate SCOUT_CONFIDENCE_THRESHOLD/SCOUT_MAX_ATTEMPTS/
// SCOUT_GATE_MODEL by hand.
func ConfigFrom(scoutCfg config.Config) Config {
	return Config{
		ConfidenceThreshold: scoutCfg.ConfidenceThreshold,
		MaxAttempts:         scoutCfg.MaxAttempts,
		Model:               scoutCfg.GateModel,
	}
}

// Request is the input to ValidateAndCompress. Exactly one of Facts or
// RawTLDRContext should be set; Facts takes precedence when both are.
type Request struct {
	Question       string
	Facts          facts.Bundle
	RawTLDRContext string

	DepsGraph    facts.DepsGraph
	QuerySymbols []facts.SymbolRef
	RepoRoot     string
	// ExpansionDepth bounds how many bounded-expansion rounds a single
	// ValidateAndCompress call may take. The zero value defaults to the
	// spec's public-contract default of 1 — a caller gets one free
	// expansion unless it passes a negative value to disable expansion
	// entirely.
	ExpansionDepth int
	Hydrate        facts.Hydrator
}

// ValidateAndCompress runs the gate's full decision pipeline for one
// question against one fact bundle.
func (g *Gate) ValidateAndCompress(ctx context.Context, req Request) (Result, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "scout.gate", SessionID: scoutid.Session()})

	repoRoot := req.RepoRoot
	if repoRoot == "" && req.DepsGraph != nil {
		repoRoot = req.DepsGraph.RepoRoot()
	}

	useFacts := req.Facts != nil
	var currentContext string
	if useFacts {
		currentContext = req.Facts.ToPrompt(maxExpandedContext)
	} else {
		currentContext = strings.TrimSpace(req.RawTLDRContext)
	}

	querySymbols := append([]facts.SymbolRef(nil), req.QuerySymbols...)

	if escalated, ok := g.checkFreshness(ctx, req.DepsGraph, querySymbols, currentContext, useFacts); ok {
		return escalated, nil
	}

	if strings.TrimSpace(currentContext) == "" {
		slog.WarnContext(ctx, "gate: received empty context, compression will likely return zero confidence")
	}

	var (
		lastErr           string
		attempt           int
		expandedSymbols   []string
		initialConfidence *float64
		totalCost         float64
	)
	expansionDepth := req.ExpansionDepth
	if expansionDepth == 0 {
		expansionDepth = 1
	}

	for attempt < g.cfg.MaxAttempts {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		attempt++
		ctx = logger.WithLogFields(ctx, logger.LogFields{Attempt: logger.Ptr(attempt)})

		if len(currentContext) > maxExpandedContext {
			slog.WarnContext(ctx, "gate: expanded context too large, truncating")
			currentContext = currentContext[:maxExpandedContext]
		}

		resp, err := g.llm.Complete(ctx, buildFullPrompt(req.Question, symbolStrings(querySymbols), currentContext), compressionSystemPrompt, g.cfg.Model)
		if err != nil {
			if ctx.Err() != nil {
				// Caller canceled mid-call: drop the attempt silently, no
				// audit event, no decision.
				return Result{}, ctx.Err()
			}
			lastErr = err.Error()
			slog.WarnContext(ctx, "gate: compression call failed", "error", err)
			g.audit.Log(audit.KindGateCompress, audit.Fields{
				Reason: "api_error",
				Config: map[string]any{"attempt": attempt, "error": lastErr},
			})
			continue
		}
		totalCost += resp.CostUSD

		rawBriefPath, _ := g.rawBriefs.StoreRawBrief(resp.Content)

		parsed, err := g.parser.Parse(resp.Content)
		if err != nil {
			lastErr = err.Error()
			cfg := map[string]any{"attempt": attempt, "error": lastErr}
			if rawBriefPath != "" {
				cfg["raw_brief_path"] = rawBriefPath
			}
			g.audit.Log(audit.KindGateCompress, audit.Fields{Reason: "parse_fail", Config: cfg})
			continue
		}

		g.logCompression(resp, parsed, attempt, rawBriefPath)

		if parsed.Confidence >= g.cfg.ConfidenceThreshold && !parsed.Suspicious {
			conf := parsed.Confidence
			return Result{
				Decision:           DecisionPass,
				Content:            parsed.Analysis,
				Confidence:         &conf,
				Gaps:               parsed.Gaps,
				Source:             SourceCompressed,
				Suspicious:         false,
				Attempt:            attempt,
				HasGapsDeclaration: parsed.HasGapsDeclaration,
				ExpandedSymbols:    expandedSymbols,
				InitialConfidence:  initialConfidence,
				CostUSD:            totalCost,
			}, nil
		}

		if parsed.Confidence < g.cfg.ConfidenceThreshold {
			lastErr = fmt.Sprintf("confidence %.2f < %.2f", parsed.Confidence, g.cfg.ConfidenceThreshold)
		} else {
			lastErr = "suspicious (missing gaps declaration)"
		}

		if expanded, newSymbols, newDepth, didExpand := g.tryExpand(ctx, req, expansionDepth, repoRoot, useFacts, parsed.Gaps, currentContext, querySymbols); didExpand {
			ic := parsed.Confidence
			initialConfidence = &ic
			added := newSymbols[len(querySymbols):]
			for _, s := range added {
				expandedSymbols = append(expandedSymbols, s.String())
			}
			querySymbols = newSymbols
			currentContext = expanded
			expansionDepth = newDepth
			slog.InfoContext(ctx, "gate: expanding and retrying", "confidence", parsed.Confidence, "new_symbols", len(added))
			continue
		}
	}

	slog.InfoContext(ctx, "gate: max attempts reached, escalating to raw")
	g.audit.Log(audit.KindGateEscalate, audit.Fields{
		Reason: "max_retries",
		Config: map[string]any{"last_error": lastErr, "attempts": g.cfg.MaxAttempts},
	})
	return Result{
		Decision:        DecisionEscalate,
		Content:         currentContext,
		Source:          sourceFor(useFacts),
		Attempt:         g.cfg.MaxAttempts,
		ExpandedSymbols: expandedSymbols,
		CostUSD:         totalCost,
	}, nil
}

// checkFreshness runs Tier 1: when the dependency graph reports a stale
// cascade over more than half the relevant nodes, skip compression
// entirely and escalate immediately — the facts can't be trusted enough
// to be worth compressing.
func (g *Gate) checkFreshness(ctx context.Context, graph facts.DepsGraph, querySymbols []facts.SymbolRef, currentContext string, useFacts bool) (Result, bool) {
	if graph == nil || len(querySymbols) == 0 {
		return Result{}, false
	}

	nodes, err := graph.GetContextPackage(ctx, querySymbols)
	if err != nil {
		slog.WarnContext(ctx, "gate: tier 1 freshness lookup failed, proceeding to compression", "error", err)
		return Result{}, false
	}
	trust, err := graph.GetTrustMetadata(ctx, nodes)
	if err != nil {
		slog.WarnContext(ctx, "gate: tier 1 trust metadata lookup failed, proceeding to compression", "error", err)
		return Result{}, false
	}
	if !trust.InvalidationCascadeTriggered || trust.StaleRatio <= 0.5 {
		return Result{}, false
	}

	zero := 0
	g.audit.Log(audit.KindGateCompress, audit.Fields{
		Reason:     "stale_cascade",
		Confidence: &zero,
		Config:     map[string]any{"stale_ratio": trust.StaleRatio},
	})
	return Result{
		Decision: DecisionEscalate,
		Content:  currentContext,
		Source:   sourceFor(useFacts),
		Attempt:  0,
	}, true
}

// tryExpand attempts one bounded expansion step: extract symbols named in
// the reported gaps, hydrate more facts for them, and append to the
// current context. It returns ok=false when there's nothing to expand —
// no gaps named a symbol, no hydrator was given, or hydration returned
// nothing new.
func (g *Gate) tryExpand(ctx context.Context, req Request, expansionDepth int, repoRoot string, useFacts bool, gaps []string, currentContext string, querySymbols []facts.SymbolRef) (newContext string, newSymbols []facts.SymbolRef, newDepth int, ok bool) {
	if expansionDepth <= 0 || len(gaps) == 0 || repoRoot == "" || !useFacts || req.Hydrate == nil {
		return "", nil, expansionDepth, false
	}

	toExpand := extractSymbolsFromGaps(gaps)
	if len(toExpand) == 0 {
		return "", nil, expansionDepth, false
	}

	merged := append(append([]facts.SymbolRef(nil), querySymbols...), toExpand...)

	graph := req.DepsGraph
	if graph == nil {
		graph = dummyDepsGraph{repoRoot: repoRoot}
	}
	bundle, err := req.Hydrate(ctx, toExpand, graph, repoRoot, 30, 1)
	if err != nil {
		slog.WarnContext(ctx, "gate: fact hydration failed during expansion", "error", err)
		return "", nil, expansionDepth, false
	}
	if len(bundle.Symbols()) == 0 {
		return "", nil, expansionDepth, false
	}

	extra := bundle.ToPrompt(8000)
	expanded := currentContext + "\n\n---\n\n" + extra
	if len(expanded) > maxExpandedContext {
		slog.WarnContext(ctx, "gate: expanded context too large, truncating")
		expanded = expanded[:maxExpandedContext]
	}
	return expanded, merged, expansionDepth - 1, true
}

func (g *Gate) logCompression(resp llm.Response, parsed briefparser.Result, attempt int, rawBriefPath string) {
	confPct := int(parsed.Confidence * 100)
	cfg := map[string]any{
		"gaps":       parsed.Gaps,
		"suspicious": parsed.Suspicious,
		"attempt":    attempt,
	}
	if rawBriefPath != "" {
		cfg["raw_brief_path"] = rawBriefPath
	}
	cost := resp.CostUSD
	g.audit.Log(audit.KindGateCompress, audit.Fields{
		Cost:       &cost,
		Confidence: &confPct,
		Model:      resp.Model,
		Config:     cfg,
	})
}

func sourceFor(useFacts bool) Source {
	if useFacts {
		return SourceRawFacts
	}
	return SourceRawTLDR
}

func symbolStrings(symbols []facts.SymbolRef) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = s.String()
	}
	return out
}

func buildFullPrompt(question string, querySymbols []string, contextText string) string {
	confidencePrompt := briefparser.BuildConfidencePrompt(question, querySymbols)
	truncated := contextText
	if len(truncated) > 28000 {
		truncated = truncated[:28000]
	}
	return fmt.Sprintf("%s\n\n---\nCONTEXT:\n%s\n\n---\nQUESTION: %s\n\n---\nYOUR RESPONSE (must include confidence_score and gaps/verified):",
		confidencePrompt, truncated, question)
}

// dummyDepsGraph stands in for a dependency graph when none was supplied
// to ValidateAndCompress, so Hydrate always has a graph to call even when
// the caller never wired one in.
type dummyDepsGraph struct{ repoRoot string }

func (d dummyDepsGraph) GetContextPackage(context.Context, []facts.SymbolRef) ([]facts.Node, error) {
	return nil, nil
}

func (d dummyDepsGraph) GetTrustMetadata(context.Context, []facts.Node) (facts.TrustMetadata, error) {
	return facts.TrustMetadata{}, nil
}

func (d dummyDepsGraph) RepoRoot() string { return d.repoRoot }

// symbolFromGapRE extracts "path::symbol" references embedded in gap
// text, e.g. "impact on internal/gate/gate.go::ValidateAndCompress".
var symbolFromGapRE = regexp.MustCompile(`(\S+\.\w+)::(\w+)`)

func extractSymbolsFromGaps(gaps []string) []facts.SymbolRef {
	if len(gaps) == 0 {
		return nil
	}
	seen := make(map[facts.SymbolRef]struct{})
	var out []facts.SymbolRef
	for _, gap := range gaps {
		for _, m := range symbolFromGapRE.FindAllStringSubmatch(gap, -1) {
			ref := facts.SymbolRef{Path: m[1], Symbol: m[2]}
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			out = append(out, ref)
		}
	}
	return out
}
