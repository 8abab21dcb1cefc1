// JSON-schema output for metadata.json, for downstream validation tooling.

package catalog

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// MetadataSchema returns the JSON schema of the study metadata file,
// reflected from the Metadata struct with inline properties (no $ref).
func MetadataSchema() ([]byte, error) {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	schema := r.Reflect(&Metadata{})
	return json.MarshalIndent(schema, "", "  ")
}
