package rbac

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthorizeMatchesTable(t *testing.T) {
	table := DefaultTable()
	evaluator := NewEvaluator(table)
	for _, role := range Roles() {
		set, ok := table.Lookup(role)
		require.True(t, ok, "role %s missing", role)
		for _, module := range Modules() {
			want, err := set.Allows(module)
			require.NoError(t, err)
			got, err := evaluator.Authorize(role, module)
			require.NoError(t, err)
			require.Equal(t, want, got, "role=%s module=%s", role, module)
		}
	}
}

func TestAuthorizeDoesNotFallThroughBetweenRoles(t *testing.T) {
	sets := map[Role]PermissionSet{}
	for _, role := range Roles() {
		sets[role] = PermissionSet{}
	}
	sets[RoleScheduler] = PermissionSet{Schedule: true}
	table, err := NewTable(sets)
	require.NoError(t, err)
	evaluator := NewEvaluator(table)

	ok, err := evaluator.Authorize(RoleScheduler, ModuleSchedule)
	require.NoError(t, err)
	require.True(t, ok)

	for _, role := range []Role{RoleAdmin, RoleSupervisor, RoleClinician, RoleBiller} {
		ok, err := evaluator.Authorize(role, ModuleSchedule)
		require.NoError(t, err)
		require.False(t, ok, "role %s inherited schedule", role)
	}
}

func TestAuthorizeConcreteScenarios(t *testing.T) {
	evaluator := NewEvaluator(DefaultTable())

	ok, err := evaluator.Authorize(RoleBiller, ModuleStaff)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = evaluator.Authorize(RoleAdmin, ModuleStaff)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAuthorizeUnknownRole(t *testing.T) {
	evaluator := NewEvaluator(DefaultTable())

	ok, err := evaluator.Authorize(Role("guest"), ModuleClients)
	require.False(t, ok)
	var roleErr *UnknownRoleError
	require.True(t, errors.As(err, &roleErr))
	require.Equal(t, "guest", roleErr.Role)
	require.True(t, IsMalformed(err))

	_, err = ParseRole("guest")
	require.True(t, errors.As(err, &roleErr))
}

func TestAuthorizeUnknownModule(t *testing.T) {
	evaluator := NewEvaluator(DefaultTable())

	ok, err := evaluator.Authorize(RoleAdmin, Module("payroll"))
	require.False(t, ok)
	var moduleErr *UnknownModuleError
	require.True(t, errors.As(err, &moduleErr))
	require.True(t, IsMalformed(err))
}

func TestDenialIsNotMalformed(t *testing.T) {
	evaluator := NewEvaluator(DefaultTable())
	decision, err := evaluator.Decide(Principal{ID: "s-1", Role: RoleScheduler}, ModuleBilling)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, ModuleBilling, decision.Module)
	require.False(t, IsMalformed(err))
}

func TestAuthorizeRoute(t *testing.T) {
	evaluator := NewEvaluator(DefaultTable())

	for _, role := range Roles() {
		ok, err := evaluator.AuthorizeRoute(role)
		require.NoError(t, err)
		require.True(t, ok, "empty allow-list should admit %s", role)
	}

	allowed := []Role{RoleAdmin, RoleSupervisor}
	for _, role := range Roles() {
		ok, err := evaluator.AuthorizeRoute(role, allowed...)
		require.NoError(t, err)
		require.Equal(t, role == RoleAdmin || role == RoleSupervisor, ok, "role %s", role)
	}

	_, err := evaluator.AuthorizeRoute(Role("guest"))
	require.True(t, IsMalformed(err))

	_, err = evaluator.AuthorizeRoute(RoleAdmin, Role("root"))
	require.True(t, IsMalformed(err))
}

func TestCapabilities(t *testing.T) {
	evaluator := NewEvaluator(DefaultTable())
	modules, err := evaluator.Capabilities(RoleScheduler)
	require.NoError(t, err)
	require.Equal(t, []Module{ModuleDashboard, ModuleClients, ModuleSchedule, ModuleMessaging}, modules)

	_, err = evaluator.Capabilities(Role(""))
	require.True(t, IsMalformed(err))
}

func TestEvaluatorConcurrentUse(t *testing.T) {
	evaluator := NewEvaluator(DefaultTable())
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, role := range Roles() {
				for _, module := range Modules() {
					if _, err := evaluator.Authorize(role, module); err != nil {
						t.Errorf("authorize %s/%s: %v", role, module, err)
					}
				}
			}
		}()
	}
	wg.Wait()
}
