package api

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// recommendationSchema accepts any object whose values are scalars. Names are
// resolved later by the reconciler, so unknown keys are allowed.
const recommendationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": {
    "type": ["number", "string", "boolean", "null"]
  }
}`

const retrainSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "reason": {"type": "string", "maxLength": 500}
  },
  "additionalProperties": false
}`

// ValidationError is one entry of a 422 detail list.
type ValidationError struct {
	Loc  string `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

type bodyValidator struct {
	schema *gojsonschema.Schema
}

func newBodyValidator(schema string) (*bodyValidator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &bodyValidator{schema: s}, nil
}

// validate returns nil when body conforms. Malformed JSON is reported as a
// single body-level error.
func (v *bodyValidator) validate(body []byte) []ValidationError {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return []ValidationError{{Loc: "body", Msg: "JSON decode error: " + err.Error(), Type: "json_invalid"}}
	}
	if result.Valid() {
		return nil
	}
	out := make([]ValidationError, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		out = append(out, ValidationError{
			Loc:  "body." + e.Field(),
			Msg:  e.Description(),
			Type: e.Type(),
		})
	}
	return out
}
