package cache

import "encoding/json"

// parseAndMigrate accepts the canonical array-of-strings shape or one of
// the legacy shapes enumerated in spec §9, returning the canonical ID list
// and whether a migration (i.e. a non-canonical shape) occurred.
//
// Legacy shapes:
//   - {"processedItems": [...]}
//   - {"items": [...]}
//   - {"id1": true, "id2": true, ...}
//   - [{"id": "..."}, ...]
func parseAndMigrate(raw []byte) (ids []string, migrated bool, err error) {
	// Canonical: array of strings. json.Unmarshal into []string already
	// fails if any element isn't a string, so success means canonical.
	var canonical []string
	if json.Unmarshal(raw, &canonical) == nil {
		return canonical, false, nil
	}

	// [{"id": "..."}, ...]
	var objArray []map[string]json.RawMessage
	if json.Unmarshal(raw, &objArray) == nil && len(objArray) > 0 {
		if _, ok := objArray[0]["id"]; ok {
			out := make([]string, 0, len(objArray))
			for _, obj := range objArray {
				var id string
				if err := json.Unmarshal(obj["id"], &id); err == nil {
					out = append(out, id)
				}
			}
			return out, true, nil
		}
	}

	// {"processedItems": [...]} / {"items": [...]}
	var wrapper map[string]json.RawMessage
	if json.Unmarshal(raw, &wrapper) == nil {
		for _, key := range []string{"processedItems", "items"} {
			if v, ok := wrapper[key]; ok {
				var list []string
				if err := json.Unmarshal(v, &list); err == nil {
					return list, true, nil
				}
			}
		}

		// {"id1": true, "id2": true, ...} — only treated as this shape if
		// every value is a bool (otherwise it's an unrecognized object).
		allBool := len(wrapper) > 0
		ids = make([]string, 0, len(wrapper))
		for k, v := range wrapper {
			var b bool
			if json.Unmarshal(v, &b) != nil {
				allBool = false
				break
			}
			ids = append(ids, k)
		}
		if allBool {
			return ids, true, nil
		}
	}

	return nil, false, errUnrecognizedShape
}

var errUnrecognizedShape = unrecognizedShapeError{}

type unrecognizedShapeError struct{}

func (unrecognizedShapeError) Error() string {
	return "cache: on-disk data does not match any known canonical or legacy shape"
}
