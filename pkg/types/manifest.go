package types

import "encoding/json"

type manifestFields Manifest

var manifestKeys = []string{"title", "description", "type", "author", "links", "web_root", "fallback_page"}

// MarshalJSON writes the known fields and flattens Extra next to them.
func (m Manifest) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(manifestFields(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]any, len(m.Extra)+len(manifestKeys))
	for k, v := range m.Extra {
		merged[k] = v
	}
	var fields map[string]any
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON keeps unknown top-level keys in Extra.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var fields manifestFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range manifestKeys {
		delete(all, k)
	}
	*m = Manifest(fields)
	if len(all) > 0 {
		m.Extra = all
	}
	return nil
}
