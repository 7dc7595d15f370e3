package models

import "encoding/json"

// SchemaMode distinguishes a single shared schema from a labeled list.
type SchemaMode string

const (
	SchemaModeSingle  SchemaMode = "single"
	SchemaModeLabeled SchemaMode = "labeled"
)

// LabeledSchema is one entry of a labeled schema list.
// SourceFileHint is empty when the entry carries no pdf_path.
type LabeledSchema struct {
	Label          string          `json:"label"`
	Schema         json.RawMessage `json:"schema"`
	SourceFileHint string          `json:"source_file_hint,omitempty"`
}

// HasHint reports whether the entry names a source file.
func (l LabeledSchema) HasHint() bool {
	return l.SourceFileHint != ""
}

// SchemaInput is the parsed form of user supplied schema text.
type SchemaInput struct {
	Mode   SchemaMode      `json:"mode"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Items  []LabeledSchema `json:"items,omitempty"`
}

// MatchedBy records which rule produced an assignment.
type MatchedBy string

const (
	MatchedByFilename MatchedBy = "filename"
	MatchedByOrder    MatchedBy = "order"
	MatchedBySingle   MatchedBy = "single"
)

// FileAssignment pairs an input file with the schema it will be extracted with.
type FileAssignment struct {
	File      File            `json:"file"`
	Schema    json.RawMessage `json:"schema"`
	Label     string          `json:"label"`
	MatchedBy MatchedBy       `json:"matched_by"`
}

// Severity levels for diagnostics.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// Diagnostic is an advisory message shown before a batch is submitted.
type Diagnostic struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Plan bundles parsed input, assignments and diagnostics for one submission.
// Valid is false when the schema text could not be parsed.
type Plan struct {
	Input       SchemaInput      `json:"input"`
	Valid       bool             `json:"valid"`
	ParseError  string           `json:"parse_error,omitempty"`
	Assignments []FileAssignment `json:"assignments"`
	Diagnostics []Diagnostic     `json:"diagnostics"`
}
