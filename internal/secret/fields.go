package secret

import "fmt"

// wellKnownFields is the fallback order used when a vault:// or aws://
// reference omits an explicit "key" query parameter and the secret has
// more than one field.
var wellKnownFields = []string{"value", "password", "token", "secret"}

// selectField implements the key-selection rule shared by vault:// and
// aws://: an explicit key wins; otherwise a single-field secret returns
// its sole value; otherwise the first well-known field present wins.
func selectField(data map[string]string, explicitKey string) (string, error) {
	if explicitKey != "" {
		v, ok := data[explicitKey]
		if !ok {
			return "", fmt.Errorf("field %q not present in secret", explicitKey)
		}
		return v, nil
	}

	if len(data) == 1 {
		for _, v := range data {
			return v, nil
		}
	}

	for _, candidate := range wellKnownFields {
		if v, ok := data[candidate]; ok {
			return v, nil
		}
	}

	return "", fmt.Errorf("no key specified and no well-known field (%v) present", wellKnownFields)
}
