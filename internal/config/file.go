package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// fileSettings reads the config file alone, without defaults or
// environment overrides, so writes never bake transient values into the
// file. A missing file is an empty settings map.
func fileSettings() (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(ConfigFile())
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	return v.AllSettings(), nil
}

func writeFileSettings(settings map[string]any) error {
	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		return err
	}
	v := viper.New()
	if err := v.MergeConfigMap(settings); err != nil {
		return err
	}
	return v.WriteConfigAs(ConfigFile())
}

// SetValue persists one key into the config file, creating the file if
// needed. Keys use dotted form, e.g. "defaults.region".
func SetValue(key string, value any) error {
	settings, err := fileSettings()
	if err != nil {
		return err
	}
	setNested(settings, strings.Split(key, "."), value)
	return writeFileSettings(settings)
}

// UnsetValue removes one key from the config file so the built-in
// default applies again. Unsetting a key that is not in the file is a
// no-op.
func UnsetValue(key string) error {
	settings, err := fileSettings()
	if err != nil {
		return err
	}
	if !unsetNested(settings, strings.Split(key, ".")) {
		return nil
	}
	return writeFileSettings(settings)
}

// Reset removes the config file entirely.
func Reset() error {
	if err := os.Remove(ConfigFile()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func setNested(settings map[string]any, path []string, value any) {
	for _, key := range path[:len(path)-1] {
		child, ok := settings[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			settings[key] = child
		}
		settings = child
	}
	settings[path[len(path)-1]] = value
}

func unsetNested(settings map[string]any, path []string) bool {
	for _, key := range path[:len(path)-1] {
		child, ok := settings[key].(map[string]any)
		if !ok {
			return false
		}
		settings = child
	}
	leaf := path[len(path)-1]
	if _, ok := settings[leaf]; !ok {
		return false
	}
	delete(settings, leaf)
	return true
}

// SettableKeys lists the keys the config subcommands may write.
var SettableKeys = []string{
	"defaults.region",
	"defaults.port",
	"defaults.instance_type",
	"defaults.system_proxy",
}

// IsSettableKey reports whether key may be written by the config
// subcommands.
func IsSettableKey(key string) bool {
	for _, k := range SettableKeys {
		if k == key {
			return true
		}
	}
	return false
}

// ErrUnknownKey is wrapped by key validation failures.
var ErrUnknownKey = fmt.Errorf("unknown config key (settable: %s)", strings.Join(SettableKeys, ", "))
