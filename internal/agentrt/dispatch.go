package agentrt

import (
	"context"
	"fmt"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
)

// ParamSpec is one declarative field in an action's parameter schema
// (spec.md §6 "parameters validated against a declarative schema with
// fields {type, required, default, doc}").
type ParamSpec struct {
	Name     string
	Type     string // "string", "int", "float", "bool", "position"
	Required bool
	Default  any
	Doc      string
}

// ActionSpec declares one entry of the per-agent RPC surface (spec.md
// §4.1, §6).
type ActionSpec struct {
	Name     string
	Category string // movement, mining, crafting, entity, inventory, placement, query, research, debug
	IsAsync  bool
	Params   []ParamSpec
	Doc      string

	// CreatesAgent marks an action (register_agent) whose job is to bring
	// the agent into existence: Dispatch skips the usual pre-existing
	// agent lookup and calls the handler with a nil *Agent.
	CreatesAgent bool
}

// Handler executes one action's validated parameters against a specific
// agent and returns its result (sync) or its queued envelope (async).
type Handler func(ctx context.Context, rt *Runtime, agent *Agent, actionID string, params map[string]any) (map[string]any, error)

// Registry is the declarative action table: one ActionSpec + Handler per
// named action, the foundation both the direct per-agent RPC surface and
// the Queue's convenience `queue_<action>` aliases dispatch through
// (spec.md §6 "Queue RPC surface").
type Registry struct {
	specs    map[string]ActionSpec
	handlers map[string]Handler
	order    []string
}

// NewRegistry builds an empty action registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]ActionSpec), handlers: make(map[string]Handler)}
}

// Register adds one action. Panics on duplicate names, since the registry
// is built once at startup from static code, not user input.
func (r *Registry) Register(spec ActionSpec, h Handler) {
	if _, exists := r.specs[spec.Name]; exists {
		panic(fmt.Sprintf("agentrt: action %q already registered", spec.Name))
	}
	r.specs[spec.Name] = spec
	r.handlers[spec.Name] = h
	r.order = append(r.order, spec.Name)
}

// Names returns every registered action name in registration order, used
// to generate the queue's `queue_<action>` aliases.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Spec looks up an action's declarative schema.
func (r *Registry) Spec(name string) (ActionSpec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Validate checks params against an ActionSpec's declared fields, filling
// in defaults for missing optional fields (spec.md §7 "InvalidParameter").
func Validate(spec ActionSpec, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(spec.Params))
	for _, p := range spec.Params {
		v, present := params[p.Name]
		if !present {
			if p.Required {
				return nil, agcore.NewRuntimeError(spec.Name, "InvalidParameter", agcore.ErrInvalidParameter).
					WithMessage(fmt.Sprintf("missing required parameter %q", p.Name))
			}
			out[p.Name] = p.Default
			continue
		}
		if err := checkType(p, v); err != nil {
			return nil, agcore.NewRuntimeError(spec.Name, "InvalidParameter", agcore.ErrInvalidParameter).
				WithMessage(fmt.Sprintf("parameter %q: %v", p.Name, err))
		}
		out[p.Name] = v
	}
	return out, nil
}

func checkType(p ParamSpec, v any) error {
	switch p.Type {
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string")
		}
	case "int":
		switch v.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("expected int")
		}
	case "float":
		switch v.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("expected float")
		}
	case "bool":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected bool")
		}
	case "position":
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("expected position object")
		}
	}
	return nil
}

// Dispatch implements spec.md §4.1 "Dispatch contract": validate
// parameters, perform the mutation or install the activity atomically (no
// partial commits on failure), and return the result envelope.
func (r *Runtime) Dispatch(ctx context.Context, registry *Registry, agentID int64, actionName string, params map[string]any) (map[string]any, error) {
	spec, ok := registry.Spec(actionName)
	if !ok {
		return nil, agcore.NewRuntimeError(actionName, "InvalidParameter", agcore.ErrInvalidParameter).
			WithMessage("unknown action")
	}
	handler := registry.handlers[actionName]

	var agent *Agent
	if !spec.CreatesAgent {
		var ok bool
		agent, ok = r.Agent(agentID)
		if !ok {
			return nil, agcore.ErrAgentNotFound
		}
	}

	validated, err := Validate(spec, params)
	if err != nil {
		return nil, err
	}

	if spec.IsAsync {
		actionID := r.NewActionID()
		result, err := handler(ctx, r, agent, actionID, validated)
		if err != nil {
			return nil, err
		}
		envelope := map[string]any{"queued": true, "action_id": actionID, "tick": r.CurrentTick()}
		for k, v := range result {
			envelope[k] = v
		}
		return envelope, nil
	}

	return handler(ctx, r, agent, "", validated)
}
