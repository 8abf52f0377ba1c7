package audit

import "time"

// Kind tags what an event records. The enumeration is closed per the spec
// but extensible — new kinds are just new string constants.
type Kind string

const (
	KindNav               Kind = "nav"
	KindBrief             Kind = "brief"
	KindCascade           Kind = "cascade"
	KindValidationFail    Kind = "validation_fail"
	KindBudget            Kind = "budget"
	KindSkip              Kind = "skip"
	KindTrigger           Kind = "trigger"
	KindTLDR              Kind = "tldr"
	KindTLDRAutoGenerated Kind = "tldr_auto_generated"
	KindDeep              Kind = "deep"
	KindDocSync           Kind = "doc_sync"
	KindCommitDraft       Kind = "commit_draft"
	KindPRSnippet         Kind = "pr_snippet"
	KindImpactAnalysis    Kind = "impact_analysis"
	KindModuleBrief       Kind = "module_brief"
	KindPRSynthesis       Kind = "pr_synthesis"
	KindRoastWithDocs     Kind = "roast_with_docs"
	KindGateCompress      Kind = "gate_compress"
	KindGateEscalate      Kind = "gate_escalate"
)

// Event is a single immutable observation, serialized as one JSON object
// per line in the audit log.
type Event struct {
	Timestamp  time.Time      `json:"ts"`
	Kind       Kind           `json:"event"`
	SessionID  string         `json:"session_id"`
	Cost       *float64       `json:"cost,omitempty"`
	Model      string         `json:"model,omitempty"`
	InputT     *int           `json:"input_t,omitempty"`
	OutputT    *int           `json:"output_t,omitempty"`
	Files      []string       `json:"files,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Confidence *int           `json:"confidence,omitempty"`
	DurationMs *int           `json:"duration_ms,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Extras     map[string]any `json:"-"`
}

// Fields is the builder used to populate an Event's optional fields,
// replacing the Python log(event_type, **kwargs) surface with a typed
// struct. Anything not named here goes into Extras and is carried through
// verbatim if JSON-serializable, stringified otherwise.
type Fields struct {
	Cost       *float64
	Model      string
	InputT     *int
	OutputT    *int
	Files      []string
	Reason     string
	Confidence *int
	DurationMs *int
	Config     map[string]any
	SessionID  string // override; defaults to the process session id
	Extras     map[string]any
}
