package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the enumerated identity class of a staff member.
type Role string

// Known roles.
const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleClinician  Role = "clinician"
	RoleScheduler  Role = "scheduler"
	RoleBiller     Role = "biller"
)

var allRoles = []Role{RoleAdmin, RoleSupervisor, RoleClinician, RoleScheduler, RoleBiller}

// Roles returns every known role in canonical order.
func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	for _, known := range allRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole normalises raw and returns the matching Role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", &UnknownRoleError{Role: raw}
	}
	return role, nil
}

// Module is a named capability area that can be granted per role.
type Module string

// Known modules.
const (
	ModuleDashboard     Module = "dashboard"
	ModuleClients       Module = "clients"
	ModuleDocumentation Module = "documentation"
	ModuleSchedule      Module = "schedule"
	ModuleMessaging     Module = "messaging"
	ModuleBilling       Module = "billing"
	ModuleSettings      Module = "settings"
	ModuleStaff         Module = "staff"
)

var allModules = []Module{
	ModuleDashboard,
	ModuleClients,
	ModuleDocumentation,
	ModuleSchedule,
	ModuleMessaging,
	ModuleBilling,
	ModuleSettings,
	ModuleStaff,
}

// Modules returns every known module in canonical order.
func Modules() []Module {
	out := make([]Module, len(allModules))
	copy(out, allModules)
	return out
}

// Valid reports whether m is one of the enumerated modules.
func (m Module) Valid() bool {
	for _, known := range allModules {
		if m == known {
			return true
		}
	}
	return false
}

// ParseModule normalises raw and returns the matching Module.
func ParseModule(raw string) (Module, error) {
	module := Module(strings.ToLower(strings.TrimSpace(raw)))
	if !module.Valid() {
		return "", &UnknownModuleError{Module: raw}
	}
	return module, nil
}

// Principal describes the authenticated actor.
type Principal struct {
	ID   string
	Role Role
}

// Decision is the evaluator's verdict for one module check.
type Decision struct {
	Role    Role
	Module  Module
	Allowed bool
}

// ErrInvalidTable indicates a permission table that is not total over the role enumeration.
var ErrInvalidTable = errors.New("rbac: invalid permission table")

// UnknownRoleError reports a role outside the enumeration.
type UnknownRoleError struct {
	Role string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("rbac: unknown role %q", e.Role)
}

// UnknownModuleError reports a module outside the enumeration.
type UnknownModuleError struct {
	Module string
}

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("rbac: unknown module %q", e.Module)
}

// IsMalformed reports whether err stems from malformed evaluator input rather than a denial.
func IsMalformed(err error) bool {
	var roleErr *UnknownRoleError
	var moduleErr *UnknownModuleError
	return errors.As(err, &roleErr) || errors.As(err, &moduleErr)
}
