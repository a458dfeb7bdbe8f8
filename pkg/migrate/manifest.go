package migrate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Synthetic migration groups a manifest can disable.
const (
	// GroupTenancy covers the organizations table and the meta-org bootstrap.
	GroupTenancy = "tenancy"
	// GroupAuth covers the users and refresh_tokens tables.
	GroupAuth = "auth"
	// GroupRBAC covers roles, user_roles, features, and authorizations.
	GroupRBAC = "rbac"
	// GroupAdmin covers the admin user and admin grants bootstrap.
	GroupAdmin = "admin"
)

var knownGroups = map[string]bool{
	GroupTenancy: true,
	GroupAuth:    true,
	GroupRBAC:    true,
	GroupAdmin:   true,
}

// Manifest tunes the synthetic migration set. The zero value is the default:
// every group enabled, no seeded features.
type Manifest struct {
	// Disable lists synthetic groups to skip.
	Disable []string `yaml:"disable"`
	// Features seeds the feature catalog; the admin grants bootstrap gives the
	// admin role read and write on each.
	Features []FeatureSeed `yaml:"features"`
}

// FeatureSeed is one feature row created by the admin grants bootstrap.
type FeatureSeed struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Disabled reports whether a synthetic group is switched off.
func (m Manifest) Disabled(group string) bool {
	for _, g := range m.Disable {
		if g == group {
			return true
		}
	}
	return false
}

// LoadManifest reads a manifest file. A missing file is not an error; the
// defaults apply. Unknown group names and unnamed features are configuration
// mistakes and fail loudly.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	for _, g := range m.Disable {
		if !knownGroups[g] {
			return Manifest{}, fmt.Errorf("manifest %s disables unknown group %q", path, g)
		}
	}
	for _, f := range m.Features {
		if f.Name == "" {
			return Manifest{}, fmt.Errorf("manifest %s lists a feature without a name", path)
		}
	}
	return m, nil
}
