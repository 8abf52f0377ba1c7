// Package facts defines the collaborator contracts the Middle-Manager
// Gate depends on but never implements: the opaque fact bundle handed in
// by the AST extractor, the symbol reference type gaps are expressed in,
// and the dependency graph used for the freshness short-circuit. Every
// concrete implementation of these lives outside this module.
package facts

import (
	"context"
	"fmt"
)

// Bundle is an opaque projection of AST-derived facts into prompt text.
// The gate never parses or enumerates a bundle's contents — it only asks
// for a length-bounded prompt rendering and a stable checksum.
type Bundle interface {
	// ToPrompt renders a deterministic, length-bounded projection of the
	// underlying facts into prompt text.
	ToPrompt(maxChars int) string

	// Checksum returns a stable hex digest of the underlying facts, used
	// to verify that a cached compression still matches the live source.
	Checksum() string

	// Symbols lists the symbols represented in this bundle. Used only to
	// decide whether an expansion step produced anything worth appending.
	Symbols() []SymbolRef
}

// SymbolRef identifies a symbol by its repo-relative path and name. Two
// refs are equal iff both components are equal.
type SymbolRef struct {
	Path   string
	Symbol string
}

// String returns the canonical "path::symbol" form used in gap text and
// audit logging.
func (r SymbolRef) String() string {
	return fmt.Sprintf("%s::%s", r.Path, r.Symbol)
}

// ParseSymbolRef parses the canonical "path::symbol" form back into a
// SymbolRef.
func ParseSymbolRef(s string) (SymbolRef, bool) {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == ':' && s[i+1] == ':' {
			path, symbol := s[:i], s[i+2:]
			if path == "" || symbol == "" {
				return SymbolRef{}, false
			}
			return SymbolRef{Path: path, Symbol: symbol}, true
		}
	}
	return SymbolRef{}, false
}

// TrustMetadata summarizes staleness over a closure of dependency nodes.
type TrustMetadata struct {
	InvalidationCascadeTriggered bool
	StaleRatio                   float64
}

// Node is an opaque dependency-graph node returned by GetContextPackage.
// The gate never inspects nodes directly; it only threads them through to
// GetTrustMetadata.
type Node interface{}

// DepsGraph is the read-only dependency-graph collaborator the gate uses
// for its Tier 1 freshness short-circuit and for fact hydration during
// expansion.
type DepsGraph interface {
	// GetContextPackage resolves the closure of nodes reachable from the
	// given query symbols.
	GetContextPackage(ctx context.Context, querySymbols []SymbolRef) ([]Node, error)

	// GetTrustMetadata reports staleness over the given nodes.
	GetTrustMetadata(ctx context.Context, nodes []Node) (TrustMetadata, error)

	// RepoRoot is the filesystem path the graph was built against.
	RepoRoot() string
}

// Hydrator fetches additional facts for a set of symbols, rendered
// through a fresh Bundle. It models the spec's external
// hydrate_facts(symbols, deps_graph, repo_root, max_facts, max_depth)
// collaborator — the gate calls it during bounded expansion and never
// implements fact hydration itself.
type Hydrator func(ctx context.Context, symbols []SymbolRef, graph DepsGraph, repoRoot string, maxFacts, maxDepth int) (Bundle, error)
