// Package settings manages persistent user settings for the newtflow CLI.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/newtron-network/newtflow/pkg/fabric"
)

// DefaultAPIAddr is where show commands look for a serve process.
const DefaultAPIAddr = "127.0.0.1:8080"

// Settings holds persistent user preferences
type Settings struct {
	// ConfigPath is the fabric file used when --config is not given
	ConfigPath string `json:"config_path,omitempty"`

	// APIAddr is the controller API queried by show commands
	APIAddr string `json:"api_addr,omitempty"`

	// AuditPath is the audit log read by the audit command
	AuditPath string `json:"audit_path,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "newtflow_settings.json"
	}
	return filepath.Join(home, ".newtflow", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from path. A missing file yields empty settings.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to path, creating its directory.
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Set assigns a setting by its key name.
func (s *Settings) Set(key, value string) error {
	switch key {
	case "config_path":
		s.ConfigPath = value
	case "api_addr":
		s.APIAddr = value
	case "audit_path":
		s.AuditPath = value
	default:
		return fmt.Errorf("unknown setting %q (valid: %v)", key, Keys())
	}
	return nil
}

// Keys lists the settable keys.
func Keys() []string {
	return []string{"config_path", "api_addr", "audit_path"}
}

// GetConfigPath returns the fabric file path (with fallback)
func (s *Settings) GetConfigPath() string {
	if s.ConfigPath != "" {
		return s.ConfigPath
	}
	return fabric.DefaultPath
}

// GetAPIAddr returns the API address (with fallback)
func (s *Settings) GetAPIAddr() string {
	if s.APIAddr != "" {
		return s.APIAddr
	}
	return DefaultAPIAddr
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
