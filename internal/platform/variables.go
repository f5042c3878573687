package platform

import (
	"bytes"
	"encoding/json"

	"platformd/backend/internal/models"
)

// Variables builds the template bag: every scalar JSON field of p, the related variables, then
// namespace and name, which always win.
func Variables(p models.Platform, related map[string]any, namespace string) (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}

	vars := make(map[string]any, len(fields)+len(related)+2)
	for key, value := range fields {
		switch value.(type) {
		case string, bool, json.Number:
			vars[key] = value
		}
	}
	for key, value := range related {
		vars[key] = value
	}
	vars["namespace"] = namespace
	vars["name"] = p.Common().Name
	return vars, nil
}
