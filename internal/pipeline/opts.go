package pipeline

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// decodeOpts fills dst (a pointer to a stage's options struct) from a
// stage's free-form config.MiddlewareConfig.Opts map, matching the way
// chu itself decodes loosely-typed config into typed structs.
func decodeOpts(opts map[string]any, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
		TagName:          "opt",
	})
	if err != nil {
		return fmt.Errorf("pipeline: build opts decoder: %w", err)
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("pipeline: decode opts: %w", err)
	}
	return nil
}
