package testutil

import (
	"encoding/json"
	"fmt"
)

// Component returns the fixture files for one component directory: the
// component.json manifest plus a small stand-in artifact. An empty
// schema omits config_schema entirely.
func Component(dir, name, version, schema string, capabilities ...string) map[string]string {
	manifest := map[string]any{
		"name":     name,
		"version":  version,
		"artifact": name + ".bin",
	}
	if len(capabilities) > 0 {
		manifest["capabilities"] = capabilities
	}
	if schema != "" {
		manifest["config_schema"] = json.RawMessage(schema)
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		panic(err)
	}

	return map[string]string{
		dir + "/component.json": string(raw),
		dir + "/" + name + ".bin": fmt.Sprintf("artifact bytes for %s@%s\n", name, version),
	}
}

// Merge combines fixture file maps; later maps win on key collisions.
func Merge(maps ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
