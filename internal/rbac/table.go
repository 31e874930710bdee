package rbac

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed permissions.yaml
var defaultTableYAML []byte

// PermissionSet holds the module flags granted to a single role.
type PermissionSet struct {
	Dashboard     bool
	Clients       bool
	Documentation bool
	Schedule      bool
	Messaging     bool
	Billing       bool
	Settings      bool
	Staff         bool
}

// Allows reports whether the set grants module.
func (p PermissionSet) Allows(module Module) (bool, error) {
	switch module {
	case ModuleDashboard:
		return p.Dashboard, nil
	case ModuleClients:
		return p.Clients, nil
	case ModuleDocumentation:
		return p.Documentation, nil
	case ModuleSchedule:
		return p.Schedule, nil
	case ModuleMessaging:
		return p.Messaging, nil
	case ModuleBilling:
		return p.Billing, nil
	case ModuleSettings:
		return p.Settings, nil
	case ModuleStaff:
		return p.Staff, nil
	default:
		return false, &UnknownModuleError{Module: string(module)}
	}
}

// Modules lists the granted modules in canonical order.
func (p PermissionSet) Modules() []Module {
	granted := make([]Module, 0, len(allModules))
	for _, m := range allModules {
		if ok, _ := p.Allows(m); ok {
			granted = append(granted, m)
		}
	}
	return granted
}

func (p *PermissionSet) set(module Module, value bool) {
	switch module {
	case ModuleDashboard:
		p.Dashboard = value
	case ModuleClients:
		p.Clients = value
	case ModuleDocumentation:
		p.Documentation = value
	case ModuleSchedule:
		p.Schedule = value
	case ModuleMessaging:
		p.Messaging = value
	case ModuleBilling:
		p.Billing = value
	case ModuleSettings:
		p.Settings = value
	case ModuleStaff:
		p.Staff = value
	}
}

// Table is the immutable role to PermissionSet mapping. The zero value knows no
// roles, so every lookup against it fails with UnknownRoleError; build tables
// with NewTable, ParseTable, LoadTable or DefaultTable.
type Table struct {
	sets map[Role]PermissionSet
}

// NewTable validates that sets covers exactly the role enumeration and returns a Table.
func NewTable(sets map[Role]PermissionSet) (Table, error) {
	copied := make(map[Role]PermissionSet, len(sets))
	for role, set := range sets {
		if !role.Valid() {
			return Table{}, fmt.Errorf("%w: %w", ErrInvalidTable, &UnknownRoleError{Role: string(role)})
		}
		copied[role] = set
	}
	var missing []string
	for _, role := range allRoles {
		if _, ok := copied[role]; !ok {
			missing = append(missing, string(role))
		}
	}
	if len(missing) > 0 {
		return Table{}, fmt.Errorf("%w: missing roles %s", ErrInvalidTable, strings.Join(missing, ", "))
	}
	return Table{sets: copied}, nil
}

type tableFile struct {
	Roles map[string]map[string]bool `yaml:"roles"`
}

// ParseTable decodes a YAML permission table. Every role must declare every module flag.
func ParseTable(data []byte) (Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Table{}, fmt.Errorf("%w: decode: %v", ErrInvalidTable, err)
	}
	sets := make(map[Role]PermissionSet, len(file.Roles))
	for rawRole, flags := range file.Roles {
		role, err := ParseRole(rawRole)
		if err != nil {
			return Table{}, fmt.Errorf("%w: %w", ErrInvalidTable, err)
		}
		if _, dup := sets[role]; dup {
			return Table{}, fmt.Errorf("%w: role %s declared twice", ErrInvalidTable, role)
		}
		var set PermissionSet
		seen := make(map[Module]struct{}, len(flags))
		for rawModule, value := range flags {
			module, err := ParseModule(rawModule)
			if err != nil {
				return Table{}, fmt.Errorf("%w: role %s: %w", ErrInvalidTable, role, err)
			}
			set.set(module, value)
			seen[module] = struct{}{}
		}
		var missing []string
		for _, m := range allModules {
			if _, ok := seen[m]; !ok {
				missing = append(missing, string(m))
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return Table{}, fmt.Errorf("%w: role %s missing modules %s", ErrInvalidTable, role, strings.Join(missing, ", "))
		}
		sets[role] = set
	}
	return NewTable(sets)
}

// LoadTable reads and validates a permission table file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("rbac: read table: %w", err)
	}
	return ParseTable(data)
}

// DefaultTable returns the built-in permission table.
func DefaultTable() Table {
	table, err := ParseTable(defaultTableYAML)
	if err != nil {
		panic(fmt.Sprintf("rbac: embedded table invalid: %v", err))
	}
	return table
}

// Lookup returns the permission set for role.
func (t Table) Lookup(role Role) (PermissionSet, bool) {
	set, ok := t.sets[role]
	return set, ok
}

// Roles lists the roles present in the table in canonical order.
func (t Table) Roles() []Role {
	roles := make([]Role, 0, len(t.sets))
	for _, role := range allRoles {
		if _, ok := t.sets[role]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}
