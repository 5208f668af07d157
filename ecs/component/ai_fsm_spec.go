package component

// AIFSMSpec is a YAML-agnostic representation of an AI finite state machine
// spec used by runtime systems.
type AIFSMSpec struct {
	Initial     string
	States      map[string]AIFSMStateSpec
	Transitions map[string][]map[string]any
	// ScriptPath names a tengo lifecycle script. When set with
	// ScriptLifecycle, the script drives the state machine instead of the
	// declarative states.
	ScriptPath      string
	ScriptLifecycle bool
}

type AIFSMStateSpec struct {
	OnEnter []map[string]any
	While   []map[string]any
	OnExit  []map[string]any
}
