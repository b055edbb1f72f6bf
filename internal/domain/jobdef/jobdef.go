// Package jobdef validates job definition documents against the embedded
// JSON Schema before they are persisted. Schema violations surface as
// validation errors naming the failing location.
package jobdef

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/target/netops-go/internal/domain/model"
	apperrors "github.com/target/netops-go/internal/errors"
)

//go:embed schema.json
var schemaJSON []byte

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		var doc any
		if err := json.Unmarshal(schemaJSON, &doc); err != nil {
			compileErr = fmt.Errorf("unmarshal embedded schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("job-definition.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = c.Compile("job-definition.schema.json")
	})
	return compiled, compileErr
}

// ValidateDocument checks a raw definition document against the schema.
func ValidateDocument(doc []byte) error {
	s, err := schema()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "load job definition schema")
	}

	var payload any
	if err := json.Unmarshal(doc, &payload); err != nil {
		return apperrors.Validation("job definition is not valid JSON")
	}

	if err := s.Validate(payload); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return apperrors.Wrapf(err, apperrors.CodeValidation,
				"job definition schema violation at %s", pointerOf(ve))
		}
		return apperrors.Wrap(err, apperrors.CodeValidation, "job definition schema violation")
	}
	return nil
}

// ValidateRequest checks an upsert request against the schema. The request
// is rendered to JSON first so omitted optional fields validate the same
// way a stored document would.
func ValidateRequest(r *model.UpsertJobDefinitionRequest) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeValidation, "encode job definition")
	}
	return ValidateDocument(doc)
}

// pointerOf walks to the deepest cause and renders its instance location as
// a JSON pointer.
func pointerOf(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return "/" + strings.Join(ve.InstanceLocation, "/")
}
