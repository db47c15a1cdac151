package main

import (
	"errors"
	"io/fs"

	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/util"
)

// fabricPath returns the --config flag, else the configured setting, and
// whether the user named a file at all.
func fabricPath() (string, bool) {
	if configPath != "" {
		return configPath, true
	}
	if userSettings != nil && userSettings.ConfigPath != "" {
		return userSettings.ConfigPath, true
	}
	return fabric.DefaultPath, false
}

// loadFabric loads the selected fabric file. With allowBuiltin, a missing
// default file falls back to the built-in four-switch fabric.
func loadFabric(allowBuiltin bool) (*fabric.Config, string, error) {
	path, named := fabricPath()
	cfg, err := fabric.Load(path)
	if err != nil {
		if allowBuiltin && !named && errors.Is(err, fs.ErrNotExist) {
			util.Infof("%s not found, using built-in fabric", path)
			return fabric.Default(), "(built-in)", nil
		}
		return nil, path, err
	}
	return cfg, path, nil
}

// redacted returns a copy of cfg with secrets masked for display.
func redacted(cfg *fabric.Config) *fabric.Config {
	c := *cfg
	if c.Bridge.Redis.Password != "" {
		c.Bridge.Redis.Password = "********"
	}
	if c.Bridge.SSH.Password != "" {
		c.Bridge.SSH.Password = "********"
	}
	return &c
}
