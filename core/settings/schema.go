package settings

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaSource string

var overridesSchema = jsonschema.MustCompileString("overrides.schema.json", schemaSource)

// ParseDocument validates an overrides JSON document against the schema and
// decodes it. Global keys and commodity names are not checked here; Replace
// does that against the live catalog.
func ParseDocument(data []byte) (Overrides, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Overrides{}, fmt.Errorf("invalid overrides document: %w", err)
	}
	if err := overridesSchema.Validate(doc); err != nil {
		return Overrides{}, fmt.Errorf("overrides document rejected: %w", err)
	}

	out := NewOverrides()
	if err := json.Unmarshal(data, &out); err != nil {
		return Overrides{}, fmt.Errorf("invalid overrides document: %w", err)
	}
	if out.Global == nil {
		out.Global = make(map[string]Value)
	}
	if out.PerCommodity == nil {
		out.PerCommodity = make(map[string]CommodityOverride)
	}
	return out, nil
}

// MarshalDocument renders overrides in the document format.
func MarshalDocument(o Overrides) ([]byte, error) {
	return json.MarshalIndent(o, "", "  ")
}
