package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"

	"agenthost/internal/domain"
	"agenthost/internal/security"
)

// ManifestFile is the file name looked up in each role directory.
const ManifestFile = "role.yaml"

// RoleManifest declares a role: which behavior implements it, which effects
// it is granted, who may instantiate it and whom it may target.
type RoleManifest struct {
	Name           string   `json:"name"                      yaml:"name"`
	Behavior       string   `json:"behavior"                  yaml:"behavior"`
	Description    string   `json:"description,omitempty"     yaml:"description,omitempty"`
	Effects        []string `json:"effects,omitempty"         yaml:"effects,omitempty"`
	InstantiableBy []string `json:"instantiable_by,omitempty" yaml:"instantiable_by,omitempty"`
	Targets        []string `json:"targets,omitempty"         yaml:"targets,omitempty"`
}

const manifestSchema = `{
  "type": "object",
  "required": ["name", "behavior"],
  "properties": {
    "name":            {"type": "string", "pattern": "^[a-z][a-z0-9_]*$"},
    "behavior":        {"type": "string", "minLength": 1},
    "description":     {"type": "string"},
    "effects":         {"type": "array", "items": {"enum": ["drain", "restore", "infect", "kill"]}, "uniqueItems": true},
    "instantiable_by": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "targets":         {"type": "array", "items": {"type": "string", "minLength": 1}}
  }
}`

// ValidateManifest checks m against the manifest schema.
func ValidateManifest(m RoleManifest) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: encode %q: %v", domain.ErrManifest, m.Name, err)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("%w: decode %q: %v", domain.ErrManifest, m.Name, err)
	}

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(manifestSchema))
	if err != nil {
		return fmt.Errorf("invalid manifest schema: %w", err)
	}
	result := schema.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("%w: %q: %s", domain.ErrManifest, m.Name, result.Error())
	}
	return nil
}

// ScanDirectories walks each directory looking for <role>/role.yaml files.
// Subdirectories without a manifest are ignored. A manifest that does not
// parse or has no name fails the scan with ErrManifest naming every such
// file; schema problems are left to RegisterManifests. A manifest that
// resolves outside its role directory fails the scan.
func ScanDirectories(dirs []string) ([]RoleManifest, error) {
	var (
		manifests []RoleManifest
		broken    []error
	)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read role dir %s: %w", dir, err)
		}
		root, err := security.NewRootedDir(dir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			data, err := root.ReadFile(filepath.Join(entry.Name(), ManifestFile))
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, fmt.Errorf("read manifest in %s: %w", filepath.Join(dir, entry.Name()), err)
			}
			path := filepath.Join(dir, entry.Name(), ManifestFile)
			var m RoleManifest
			if err := yaml.Unmarshal(data, &m); err != nil {
				broken = append(broken, fmt.Errorf("%w: %s: %v", domain.ErrManifest, path, err))
				continue
			}
			if m.Name == "" {
				broken = append(broken, fmt.Errorf("%w: %s: missing name", domain.ErrManifest, path))
				continue
			}
			manifests = append(manifests, m)
		}
	}
	if len(broken) > 0 {
		return nil, errors.Join(broken...)
	}
	return manifests, nil
}

// RegisterManifests registers every manifest with reg, binding each to the
// catalog behavior it names, and returns the compatibility table declared by
// their targets. Effect requests are checked against the allow/deny lists.
func RegisterManifests(reg *Registry, manifests []RoleManifest, catalog map[string]Factory, allowed, denied []string) (CompatibilityTable, error) {
	compat := CompatibilityTable{}

	sorted := append([]RoleManifest(nil), manifests...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, m := range sorted {
		if err := ValidateManifest(m); err != nil {
			return CompatibilityTable{}, err
		}
		if err := ValidateGrants(m, allowed, denied); err != nil {
			return CompatibilityTable{}, err
		}
		factory, ok := catalog[m.Behavior]
		if !ok {
			return CompatibilityTable{}, domain.NewDomainError("RegisterManifests", domain.ErrNotFound,
				fmt.Sprintf("role %q names unknown behavior %q", m.Name, m.Behavior))
		}

		effects := make([]Effect, 0, len(m.Effects))
		for _, name := range m.Effects {
			eff, err := ParseEffect(name)
			if err != nil {
				return CompatibilityTable{}, err
			}
			effects = append(effects, eff)
		}
		allowedBy := make([]domain.Role, len(m.InstantiableBy))
		for i, r := range m.InstantiableBy {
			allowedBy[i] = domain.Role(r)
		}

		role := domain.Role(m.Name)
		if err := reg.Register(role, factory, DefaultPolicy(allowedBy...), WithEffects(effects...)); err != nil {
			return CompatibilityTable{}, err
		}
		for _, t := range m.Targets {
			compat.Allow(role, domain.Role(t))
		}
	}

	for _, m := range sorted {
		for _, t := range m.Targets {
			if !reg.Has(domain.Role(t)) {
				return CompatibilityTable{}, domain.NewDomainError("RegisterManifests", domain.ErrUnknownRole,
					fmt.Sprintf("role %q targets %q", m.Name, t))
			}
		}
	}
	return compat, nil
}
