// Package svcfile loads named connection profiles from a YAML file, the
// same way a teacher's dbbouncer.yaml carries defaults shared by every
// tenant and per-tenant overrides layered on top.
package svcfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults holds the fields every profile falls back to when it doesn't
// set its own value. Pointer fields distinguish "not set" from a
// meaningful zero value (port 0, an empty password, ...).
type Defaults struct {
	Host            string `yaml:"host"`
	Port            *int   `yaml:"port,omitempty"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	ApplicationName string `yaml:"application_name"`
	SSLMode         string `yaml:"sslmode"`
	SSLRootCert     string `yaml:"sslrootcert"`
	MaxPoolSize     *int   `yaml:"max_pool_size,omitempty"`
	MinPoolSize     *int   `yaml:"min_pool_size,omitempty"`
}

// Profile is one named connection target, overriding any Defaults field
// it sets explicitly.
type Profile struct {
	Host            string `yaml:"host"`
	Port            *int   `yaml:"port,omitempty"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	ApplicationName string `yaml:"application_name"`
	SSLMode         string `yaml:"sslmode"`
	SSLRootCert     string `yaml:"sslrootcert"`
	MaxPoolSize     *int   `yaml:"max_pool_size,omitempty"`
	MinPoolSize     *int   `yaml:"min_pool_size,omitempty"`
}

// File is the top-level shape of a profiles YAML document.
type File struct {
	Defaults Defaults           `yaml:"defaults"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// Load parses path as a profiles YAML document.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles file %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing profiles file %s: %w", path, err)
	}
	return &f, nil
}

// Resolved is a Profile with every Defaults fallback already applied.
type Resolved struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	ApplicationName string
	SSLMode         string
	SSLRootCert     string
	MaxPoolSize     int
	MinPoolSize     int
}

// Resolve merges name's Profile over f.Defaults, the same field-by-field
// fallback a TenantConfig's Effective* accessors apply over PoolDefaults.
func (f *File) Resolve(name string) (Resolved, error) {
	p, ok := f.Profiles[name]
	if !ok {
		return Resolved{}, fmt.Errorf("no profile named %q", name)
	}
	r := Resolved{
		Host:            firstNonEmpty(p.Host, f.Defaults.Host),
		User:            firstNonEmpty(p.User, f.Defaults.User),
		Password:        firstNonEmpty(p.Password, f.Defaults.Password),
		Database:        firstNonEmpty(p.Database, f.Defaults.Database),
		ApplicationName: firstNonEmpty(p.ApplicationName, f.Defaults.ApplicationName),
		SSLMode:         firstNonEmpty(p.SSLMode, f.Defaults.SSLMode),
		SSLRootCert:     firstNonEmpty(p.SSLRootCert, f.Defaults.SSLRootCert),
		Port:            firstIntPtr(p.Port, f.Defaults.Port),
		MaxPoolSize:     firstIntPtr(p.MaxPoolSize, f.Defaults.MaxPoolSize),
		MinPoolSize:     firstIntPtr(p.MinPoolSize, f.Defaults.MinPoolSize),
	}
	return r, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstIntPtr(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}
