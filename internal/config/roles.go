package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkTypeConfig binds one work type to the platform roles used around it.
// The role IDs are opaque to the engine; the external command layer applies
// them. WatchEvents marks the single work type that carries a secondary
// hosted-event quota.
type WorkTypeConfig struct {
	Name        string `yaml:"name"`
	DutyRoleID  string `yaml:"duty_role"`
	BreakRoleID string `yaml:"break_role"`
	WatchEvents bool   `yaml:"watch_events"`
}

// RolesConfig is the declarative role mapping loaded from ROLES_FILE.
type RolesConfig struct {
	WorkTypes       []WorkTypeConfig `yaml:"work_types"`
	FullBypassRoles []string         `yaml:"full_bypass_roles"`
	LeaveRoles      []string         `yaml:"leave_roles"`
	ReducedRoles    []string         `yaml:"reduced_roles"`
}

func LoadRoles(path string) (*RolesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}

	var cfg RolesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse roles file: %w", err)
	}

	if len(cfg.WorkTypes) == 0 {
		return nil, fmt.Errorf("roles file defines no work types")
	}
	watchTypes := 0
	for _, wt := range cfg.WorkTypes {
		if wt.Name == "" {
			return nil, fmt.Errorf("roles file contains a work type without a name")
		}
		if wt.WatchEvents {
			watchTypes++
		}
	}
	if watchTypes > 1 {
		return nil, fmt.Errorf("at most one work type may carry watch_events")
	}

	return &cfg, nil
}

// WorkType looks up a work type by name.
func (c *RolesConfig) WorkType(name string) *WorkTypeConfig {
	for i := range c.WorkTypes {
		if c.WorkTypes[i].Name == name {
			return &c.WorkTypes[i]
		}
	}
	return nil
}

// WorkTypeNames lists the configured work types in declaration order.
func (c *RolesConfig) WorkTypeNames() []string {
	names := make([]string, 0, len(c.WorkTypes))
	for _, wt := range c.WorkTypes {
		names = append(names, wt.Name)
	}
	return names
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (c *RolesConfig) IsFullBypass(roleID string) bool { return contains(c.FullBypassRoles, roleID) }
func (c *RolesConfig) IsLeave(roleID string) bool      { return contains(c.LeaveRoles, roleID) }
func (c *RolesConfig) IsReduced(roleID string) bool    { return contains(c.ReducedRoles, roleID) }
