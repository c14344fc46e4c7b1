package mockserver

import (
	"bytes"
	"encoding/json"
	"fmt"

	"mockpit/internal/models"
)

// DecodeMappingList accepts the three list shapes admin APIs are known to
// return: a wrapper object with a "mappings" array, a bare array, or a single
// mapping object. Records without any usable identifier are dropped.
func DecodeMappingList(data []byte) ([]*models.Mapping, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	switch trimmed[0] {
	case '{':
		var wrapper struct {
			Mappings []*models.Mapping `json:"mappings"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err == nil && wrapper.Mappings != nil {
			return dropUnidentified(wrapper.Mappings), nil
		}
		var single models.Mapping
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("failed to parse mapping list: %w", err)
		}
		return dropUnidentified([]*models.Mapping{&single}), nil
	case '[':
		var list []*models.Mapping
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to parse mapping list: %w", err)
		}
		return dropUnidentified(list), nil
	default:
		return nil, fmt.Errorf("unrecognized mapping list payload (leading byte %q)", trimmed[0])
	}
}

func dropUnidentified(in []*models.Mapping) []*models.Mapping {
	out := in[:0]
	for _, m := range in {
		if m == nil || models.ExtractIdentifiers(m).Empty() {
			continue
		}
		out = append(out, m)
	}
	return out
}
