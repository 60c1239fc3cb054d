package tiled

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/map.schema.json
var mapSchemaJSON string

var mapSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("map.schema.json", mapSchemaJSON)
})

// validateMapDocument checks a JSON map document against the embedded
// schema before it is decoded into the model.
func validateMapDocument(data []byte) error {
	schema, err := mapSchema()
	if err != nil {
		return fmt.Errorf("compiling map schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return errorf(ErrInvalidMap, "not JSON: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return errorf(ErrInvalidMap, "%v", err)
	}
	return nil
}
