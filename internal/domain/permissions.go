package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

type Permission string

const (
	PermDashboard      Permission = "dashboard"
	PermSales          Permission = "sales"
	PermProducts       Permission = "products"
	PermAdministration Permission = "administration"
)

// allPermissions fixes the bit order and the canonical serialization order.
var allPermissions = []Permission{PermDashboard, PermSales, PermProducts, PermAdministration}

// PermissionSet is a set of permission tags. It is stored as a comma-joined
// string; nothing outside the storage boundary should look at that form.
type PermissionSet uint8

func permissionBit(p Permission) (PermissionSet, bool) {
	for i, known := range allPermissions {
		if known == p {
			return PermissionSet(1) << i, true
		}
	}
	return 0, false
}

func NewPermissionSet(perms ...Permission) PermissionSet {
	var set PermissionSet
	for _, p := range perms {
		set = set.Add(p)
	}
	return set
}

func AllPermissions() PermissionSet {
	return NewPermissionSet(allPermissions...)
}

// legacyPermissionNames maps the tags older POS clients send.
var legacyPermissionNames = map[string]Permission{
	"vendas":        PermSales,
	"produtos":      PermProducts,
	"administracao": PermAdministration,
}

// ParsePermissionList normalizes user supplied tags (trim, lower-case,
// dedupe). Unknown tags are rejected.
func ParsePermissionList(tags []string) (PermissionSet, error) {
	var set PermissionSet
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" {
			continue
		}
		if canonical, ok := legacyPermissionNames[tag]; ok {
			tag = string(canonical)
		}
		bit, ok := permissionBit(Permission(tag))
		if !ok {
			return 0, fmt.Errorf("unknown permission %q", tag)
		}
		set |= bit
	}
	return set, nil
}

// ParsePermissionSet reads the comma-joined storage form.
func ParsePermissionSet(raw string) (PermissionSet, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return ParsePermissionList(strings.Split(raw, ","))
}

func (s PermissionSet) Has(p Permission) bool {
	bit, ok := permissionBit(p)
	return ok && s&bit != 0
}

func (s PermissionSet) Add(p Permission) PermissionSet {
	bit, ok := permissionBit(p)
	if !ok {
		return s
	}
	return s | bit
}

func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(allPermissions))
	for _, p := range allPermissions {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

func (s PermissionSet) String() string {
	list := s.List()
	parts := make([]string, len(list))
	for i, p := range list {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	parsed, err := ParsePermissionList(tags)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s *PermissionSet) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*s = 0
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("unsupported permissions column type %T", src)
	}
	parsed, err := ParsePermissionSet(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s PermissionSet) Value() (driver.Value, error) {
	return s.String(), nil
}
