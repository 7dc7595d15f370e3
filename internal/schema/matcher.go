package schema

import (
	"fmt"
	"strings"

	"github.com/pdf-batch/backend/internal/models"
)

// ExhaustedPolicy decides what a file gets when the order fallback pool is empty.
type ExhaustedPolicy string

const (
	// ReuseFirst assigns the first labeled entry again.
	ReuseFirst ExhaustedPolicy = "reuse_first"
	// EmptySchema assigns {} with no label.
	EmptySchema ExhaustedPolicy = "empty"
)

// ParsePolicy returns the policy named by s, defaulting to ReuseFirst.
func ParsePolicy(s string) (ExhaustedPolicy, error) {
	switch ExhaustedPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ReuseFirst:
		return ReuseFirst, nil
	case EmptySchema:
		return EmptySchema, nil
	}
	return "", fmt.Errorf("unknown exhausted policy %q", s)
}

// Matcher assigns schemas to files.
type Matcher struct {
	Policy ExhaustedPolicy
}

// DefaultMatcher reuses the first labeled entry once the fallback pool is empty.
var DefaultMatcher = Matcher{Policy: ReuseFirst}

// Match assigns a schema to every file using DefaultMatcher.
func Match(files []models.File, in models.SchemaInput) []models.FileAssignment {
	return DefaultMatcher.Match(files, in)
}

// Diagnose reports advisory mapping issues using DefaultMatcher.
func Diagnose(files []models.File, in models.SchemaInput) []models.Diagnostic {
	return DefaultMatcher.Diagnose(files, in)
}

// BaseName returns the last path element of p, accepting both / and \ as
// separators.
func BaseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

func matchKey(p string) string {
	return strings.ToLower(BaseName(p))
}

// Match returns exactly one assignment per file, in file order.
func (m Matcher) Match(files []models.File, in models.SchemaInput) []models.FileAssignment {
	out := make([]models.FileAssignment, 0, len(files))

	if in.Mode == models.SchemaModeSingle {
		schema := in.Schema
		if len(schema) == 0 {
			schema = emptyObject
		}
		for _, f := range files {
			out = append(out, models.FileAssignment{File: f, Schema: schema, MatchedBy: models.MatchedBySingle})
		}
		return out
	}

	byName := hintIndex(in.Items)
	var pool []models.LabeledSchema
	for _, it := range in.Items {
		if !it.HasHint() {
			pool = append(pool, it)
		}
	}

	for _, f := range files {
		if it, ok := byName[matchKey(f.Name)]; ok {
			out = append(out, assign(f, it, models.MatchedByFilename))
			continue
		}
		if len(pool) > 0 {
			out = append(out, assign(f, pool[0], models.MatchedByOrder))
			pool = pool[1:]
			continue
		}
		if len(in.Items) > 0 && m.Policy != EmptySchema {
			out = append(out, assign(f, in.Items[0], models.MatchedByOrder))
			continue
		}
		out = append(out, models.FileAssignment{File: f, Schema: emptyObject, MatchedBy: models.MatchedByOrder})
	}
	return out
}

// Diagnose reports hints naming no submitted file, files not matched by
// filename and files that fell past the end of the fallback pool.
// Diagnostics never block a submission.
func (m Matcher) Diagnose(files []models.File, in models.SchemaInput) []models.Diagnostic {
	if in.Mode != models.SchemaModeLabeled {
		return nil
	}

	var diags []models.Diagnostic
	byName := hintIndex(in.Items)

	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[matchKey(f.Name)] = true
	}
	reported := make(map[string]bool)
	for _, it := range in.Items {
		key := matchKey(it.SourceFileHint)
		if key == "" || present[key] || reported[key] {
			continue
		}
		reported[key] = true
		diags = append(diags, models.Diagnostic{
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("entry %q names %s but no submitted file has that name; it is assigned by order", it.Label, BaseName(it.SourceFileHint)),
		})
	}

	pool := 0
	for _, it := range in.Items {
		if !it.HasHint() {
			pool++
		}
	}
	for _, f := range files {
		if _, ok := byName[matchKey(f.Name)]; ok {
			continue
		}
		diags = append(diags, models.Diagnostic{
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("file %s has no entry by name; it is assigned by order", f.Name),
		})
		if pool > 0 {
			pool--
			continue
		}
		msg := fmt.Sprintf("no unassigned entry left for file %s; it gets an empty schema", f.Name)
		if len(in.Items) > 0 && m.Policy != EmptySchema {
			msg = fmt.Sprintf("no unassigned entry left for file %s; it reuses entry %q", f.Name, in.Items[0].Label)
		}
		diags = append(diags, models.Diagnostic{Severity: models.SeverityWarning, Message: msg})
	}
	return diags
}

// Plan parses text and, when valid, matches files against it.
func (m Matcher) Plan(text string, files []models.File) models.Plan {
	in, err := Parse(text)
	if err != nil {
		return models.Plan{Valid: false, ParseError: err.Error(), Assignments: []models.FileAssignment{}, Diagnostics: []models.Diagnostic{}}
	}
	plan := models.Plan{
		Input:       in,
		Valid:       true,
		Assignments: m.Match(files, in),
		Diagnostics: m.Diagnose(files, in),
	}
	if plan.Diagnostics == nil {
		plan.Diagnostics = []models.Diagnostic{}
	}
	return plan
}

// hintIndex maps lowercased hint base names to entries. The first entry
// declaring a name wins.
func hintIndex(items []models.LabeledSchema) map[string]models.LabeledSchema {
	idx := make(map[string]models.LabeledSchema, len(items))
	for _, it := range items {
		key := matchKey(it.SourceFileHint)
		if key == "" {
			continue
		}
		if _, dup := idx[key]; !dup {
			idx[key] = it
		}
	}
	return idx
}

func assign(f models.File, it models.LabeledSchema, by models.MatchedBy) models.FileAssignment {
	return models.FileAssignment{File: f, Schema: it.Schema, Label: it.Label, MatchedBy: by}
}
