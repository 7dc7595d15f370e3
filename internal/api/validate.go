package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const batchPatchSchema = `{
  "type": "object",
  "additionalProperties": false,
  "minProperties": 1,
  "properties": {
    "status": {"enum": ["created", "running", "done", "error"]},
    "total_count": {"type": "integer", "minimum": 0},
    "done_count": {"type": "integer", "minimum": 0},
    "error_count": {"type": "integer", "minimum": 0}
  }
}`

const workItemPatchSchema = `{
  "type": "object",
  "additionalProperties": false,
  "minProperties": 1,
  "properties": {
    "status": {"enum": ["queued", "running", "done", "error"]},
    "duration_ms": {"type": "integer", "minimum": 0},
    "result_path": {"type": "string"},
    "error_message": {"type": "string"}
  }
}`

const previewRequestSchema = `{
  "type": "object",
  "required": ["schema", "files"],
  "properties": {
    "schema": {"type": "string"},
    "files": {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`

var (
	batchPatchValidator    = mustCompile("batch_patch.json", batchPatchSchema)
	workItemPatchValidator = mustCompile("work_item_patch.json", workItemPatchSchema)
	previewValidator       = mustCompile("preview_request.json", previewRequestSchema)
)

func mustCompile(name, text string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(text)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", name, err))
	}
	return sch
}

// validateJSON checks body against sch and decodes it into dst.
func validateJSON(sch *jsonschema.Schema, what string, body []byte, dst any) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return NewBadRequestError(fmt.Sprintf("invalid %s JSON", what), err)
	}
	if err := sch.Validate(doc); err != nil {
		return NewSchemaViolationError(what, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return NewBadRequestError(fmt.Sprintf("invalid %s", what), err)
	}
	return nil
}
