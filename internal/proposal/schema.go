package proposal

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
)

// ContractSchema returns the JSON Schema of the proposal envelope, reflected
// from Set. It is embedded in prompts and printed by the CLI.
func ContractSchema() []byte {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			DoNotReference: true,
			ExpandedStruct: true,
		}
		s := r.Reflect(&Set{})
		s.Title = "Visualization proposals"
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			// Reflect output always marshals; keep an empty schema otherwise.
			data = []byte("{}")
		}
		schemaJSON = data
	})
	return schemaJSON
}
