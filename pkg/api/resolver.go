package api

import (
	"context"
	"fmt"
	"sort"
)

// ResourceContext is the resource reference an approver spec is resolved
// against. The engine never dereferences the resource itself; the context
// exists so resolver backends can (e.g. look up the resource's owner).
type ResourceContext struct {
	OrgID        string
	ResourceType string
	ResourceID   string
}

// ApproverResolver translates an approver spec into concrete voter ids at
// the moment an approval step is entered.
//
// Implementations must return an error rather than an empty set when a spec
// cannot be resolved; the engine turns that into a hard step failure instead
// of letting the step stall with no possible quorum.
type ApproverResolver interface {
	Resolve(ctx context.Context, spec ApproverSpec, rc ResourceContext) ([]string, error)
}

// StaticResolver materializes user specs only. Role and dynamic specs fail
// with ErrUnresolvableApprovers. It is the default resolver; deployments
// with a directory plug in their own backend.
type StaticResolver struct{}

func (StaticResolver) Resolve(_ context.Context, spec ApproverSpec, _ ResourceContext) ([]string, error) {
	if spec.Kind == ApproverUser {
		return []string{spec.Target}, nil
	}
	return nil, fmt.Errorf("%w: no backend for %s approver %q",
		ErrUnresolvableApprovers, spec.Kind, spec.Target)
}

// DynamicFunc resolves a dynamic approver spec.
type DynamicFunc func(ctx context.Context, spec ApproverSpec, rc ResourceContext) ([]string, error)

// DirectoryResolver resolves role specs against a role-membership directory
// and optionally delegates dynamic specs to a hook. User specs resolve to
// their target directly.
type DirectoryResolver struct {
	// Roles maps a role name to its member user ids.
	Roles map[string][]string

	// Dynamic, if non-nil, handles ApproverDynamic specs.
	Dynamic DynamicFunc
}

func (r DirectoryResolver) Resolve(ctx context.Context, spec ApproverSpec, rc ResourceContext) ([]string, error) {
	switch spec.Kind {
	case ApproverUser:
		return []string{spec.Target}, nil
	case ApproverRole:
		members := r.Roles[spec.Target]
		if len(members) == 0 {
			return nil, fmt.Errorf("%w: role %q has no members",
				ErrUnresolvableApprovers, spec.Target)
		}
		// Stable voter order regardless of directory map iteration.
		out := append([]string(nil), members...)
		sort.Strings(out)
		return out, nil
	case ApproverDynamic:
		if r.Dynamic == nil {
			return nil, fmt.Errorf("%w: no dynamic hook for %q",
				ErrUnresolvableApprovers, spec.Target)
		}
		voters, err := r.Dynamic(ctx, spec, rc)
		if err != nil {
			return nil, err
		}
		if len(voters) == 0 {
			return nil, fmt.Errorf("%w: dynamic spec %q resolved empty",
				ErrUnresolvableApprovers, spec.Target)
		}
		return voters, nil
	default:
		return nil, fmt.Errorf("%w: unknown approver kind %q",
			ErrUnresolvableApprovers, spec.Kind)
	}
}
