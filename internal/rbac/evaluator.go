package rbac

// Evaluator answers authorization questions against a fixed Table.
// It holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	table Table
}

// NewEvaluator constructs an Evaluator bound to table.
func NewEvaluator(table Table) *Evaluator {
	return &Evaluator{table: table}
}

// Authorize reports whether role may use module. A denial is a false result,
// not an error; errors are reserved for roles or modules outside the enumeration.
func (e *Evaluator) Authorize(role Role, module Module) (bool, error) {
	set, ok := e.table.Lookup(role)
	if !ok {
		return false, &UnknownRoleError{Role: string(role)}
	}
	if !module.Valid() {
		return false, &UnknownModuleError{Module: string(module)}
	}
	return set.Allows(module)
}

// AuthorizeRoute reports whether role is one of required. An empty required
// list admits any known role.
func (e *Evaluator) AuthorizeRoute(role Role, required ...Role) (bool, error) {
	if _, ok := e.table.Lookup(role); !ok {
		return false, &UnknownRoleError{Role: string(role)}
	}
	allowed, err := normalizeRoles(required)
	if err != nil {
		return false, err
	}
	if len(allowed) == 0 {
		return true, nil
	}
	_, ok := allowed[role]
	return ok, nil
}

// Decide evaluates module access for principal.
func (e *Evaluator) Decide(principal Principal, module Module) (Decision, error) {
	allowed, err := e.Authorize(principal.Role, module)
	if err != nil {
		return Decision{Role: principal.Role, Module: module}, err
	}
	return Decision{Role: principal.Role, Module: module, Allowed: allowed}, nil
}

// Capabilities lists the modules granted to role.
func (e *Evaluator) Capabilities(role Role) ([]Module, error) {
	set, ok := e.table.Lookup(role)
	if !ok {
		return nil, &UnknownRoleError{Role: string(role)}
	}
	return set.Modules(), nil
}

// Table exposes the evaluator's permission table.
func (e *Evaluator) Table() Table {
	return e.table
}

func normalizeRoles(roles []Role) (map[Role]struct{}, error) {
	unique := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		if !r.Valid() {
			return nil, &UnknownRoleError{Role: string(r)}
		}
		unique[r] = struct{}{}
	}
	return unique, nil
}
