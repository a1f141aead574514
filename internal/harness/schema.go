package harness

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed scenario.cue
var schemaCUE string

var (
	schemaOnce sync.Once
	schemaVal  cue.Value
	schemaErr  error
)

// scenarioSchema compiles the embedded schema once per process.
func scenarioSchema() (cue.Value, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		compiled := ctx.CompileString(schemaCUE, cue.Filename("scenario.cue"))
		if err := compiled.Err(); err != nil {
			schemaErr = fmt.Errorf("compile scenario schema: %w", err)
			return
		}
		schemaVal = compiled.LookupPath(cue.ParsePath("#Scenario"))
		if err := schemaVal.Err(); err != nil {
			schemaErr = fmt.Errorf("lookup #Scenario: %w", err)
		}
	})
	return schemaVal, schemaErr
}

// ValidateScenarioBytes checks raw scenario YAML against the embedded
// CUE schema. Returns a detailed error for shape violations: unknown
// step names, invalid ops, malformed assertion types.
func ValidateScenarioBytes(data []byte) error {
	schema, err := scenarioSchema()
	if err != nil {
		return err
	}

	// Decode to a generic value; the schema, not the Go struct, is the
	// arbiter of shape at this stage.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("scenario is empty")
	}

	ctx := schema.Context()
	encoded := ctx.Encode(doc)
	if err := encoded.Err(); err != nil {
		return fmt.Errorf("encode scenario: %w", err)
	}

	unified := schema.Unify(encoded)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return fmt.Errorf("schema: %s", cueerrors.Details(err, nil))
	}

	return nil
}
