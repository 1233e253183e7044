package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

var configSchema = sync.OnceValues(func() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
	}
	return json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
})

// JSONSchema returns the JSON Schema for the Config struct, for editor
// completion and external validation of config files. The schema is
// reflected once and cached.
func JSONSchema() ([]byte, error) {
	return configSchema()
}
