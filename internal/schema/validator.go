// Package schema validates inbound JSON payloads against embedded JSON Schemas.
package schema

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema names.
const (
	MeetWebhook     = "meet_webhook"
	RealtimeRequest = "realtime_request"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ValidationError lists every schema violation of one document.
type ValidationError struct {
	Schema   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Schema, strings.Join(e.Problems, "; "))
}

type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// New compiles the embedded schemas.
func New() (*Validator, error) {
	v := &Validator{schemas: map[string]*gojsonschema.Schema{}}
	for _, name := range []string{MeetWebhook, RealtimeRequest} {
		data, err := schemaFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

// Validate checks doc against the named schema. Malformed JSON and schema
// violations are both reported as *ValidationError.
func (v *Validator) Validate(name string, doc []byte) error {
	s, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	res, err := s.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &ValidationError{Schema: name, Problems: []string{"malformed JSON: " + err.Error()}}
	}
	if res.Valid() {
		return nil
	}

	problems := make([]string, 0, len(res.Errors()))
	for _, re := range res.Errors() {
		problems = append(problems, re.String())
	}
	return &ValidationError{Schema: name, Problems: problems}
}
