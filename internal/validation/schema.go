package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrNotJSON = errors.New("not valid json")

const summarySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["total_rules", "applicable_rules", "passed", "failed", "not_applicable",
               "critical_issues", "major_issues", "overall_risk", "compliance_percent"],
  "properties": {
    "total_rules":      {"type": "integer", "minimum": 0},
    "applicable_rules": {"type": "integer", "minimum": 0},
    "passed":           {"type": "integer", "minimum": 0},
    "failed":           {"type": "integer", "minimum": 0},
    "not_applicable":   {"type": "integer", "minimum": 0},
    "critical_issues":  {"type": "integer", "minimum": 0},
    "major_issues":     {"type": "integer", "minimum": 0},
    "overall_risk":     {"type": "string", "pattern": "^\\s*([Ll][Oo][Ww]|[Mm][Ee][Dd][Ii][Uu][Mm]|[Hh][Ii][Gg][Hh])\\s*$"},
    "compliance_percent": {"type": "number", "minimum": 0, "maximum": 100},
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["rule_id"],
        "properties": {
          "rule_id":        {"type": "string"},
          "reason":         {"type": "string"},
          "recommendation": {"type": "string"}
        }
      }
    }
  }
}`

const descriptorSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "status":     {"type": "string"},
    "excel_name": {"type": ["string", "null"]},
    "excel_path": {"type": "string"}
  }
}`

var (
	compileOnce sync.Once
	compileErr  error
	summary     *jsonschema.Schema
	descriptor  *jsonschema.Schema
)

func compile(name, src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return s, nil
}

func schemas() error {
	compileOnce.Do(func() {
		if summary, compileErr = compile("summary.json", summarySchema); compileErr != nil {
			return
		}
		descriptor, compileErr = compile("descriptor.json", descriptorSchema)
	})
	return compileErr
}

func validate(s *jsonschema.Schema, data []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after value", ErrNotJSON)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// Summary validates the analyzer's summary document and decodes it.
func Summary(data []byte) (*domain.SummaryReport, error) {
	if err := schemas(); err != nil {
		return nil, err
	}
	if err := validate(summary, data); err != nil {
		return nil, err
	}
	var rep domain.SummaryReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	if rep.Issues == nil {
		rep.Issues = []domain.Issue{}
	}
	return &rep, nil
}

// Descriptor decodes the analyzer's stdout. An absent excel_name is not an
// error here.
func Descriptor(data []byte) (*domain.AnalysisDescriptor, error) {
	if err := schemas(); err != nil {
		return nil, err
	}
	if err := validate(descriptor, data); err != nil {
		return nil, err
	}
	var d domain.AnalysisDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	return &d, nil
}
