package pipeline

import "fmt"

// Factory builds a Stage from its decoded config.Opts map. Each built-in
// stage kind registers a factory via RegisterStageKind, mirroring the
// teacher's node-factory registry (internal/service/workflow's
// RegisterNodeType/GetNodeFactory) simplified from a DAG to an ordered
// chain: one factory per kind name, no port/selection routing.
type Factory func(opts map[string]any) (Stage, error)

var stageFactories = make(map[string]Factory)

// RegisterStageKind registers a stage factory for a kind name. Called from
// each stage file's init().
func RegisterStageKind(kind string, factory Factory) {
	stageFactories[kind] = factory
}

// Build constructs a Stage for the given kind using its registered
// factory, failing fast (per spec §9's "refuse to start on shape
// mismatch" guidance) rather than deferring validation to first use.
func Build(kind string, opts map[string]any) (Stage, error) {
	factory, ok := stageFactories[kind]
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown stage kind %q", kind)
	}
	return factory(opts)
}

// RegisteredKinds returns every registered stage kind name.
func RegisteredKinds() []string {
	kinds := make([]string, 0, len(stageFactories))
	for k := range stageFactories {
		kinds = append(kinds, k)
	}
	return kinds
}
