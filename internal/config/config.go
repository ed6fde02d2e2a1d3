package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Sections maps a top-level config key to the struct it is decoded into. Values must be pointers; their
// current contents are the defaults.
type Sections map[string]any

// Load reads file into the sections. An empty file name loads defaults and environment only.
// Every leaf key can be overridden by an environment variable named after its path, e.g. HTTP_PORT for
// http.port.
func Load(file string, sections Sections) error {
	v := viper.New()

	// Section values are defaults; the file and the environment override them leaf by leaf.
	for name, section := range sections {
		m := make(map[string]any)
		if err := mapstructure.Decode(section, &m); err != nil {
			return fmt.Errorf("mapstructure: section %s: %v", name, err)
		}
		v.SetDefault(name, m)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	all := v.AllSettings()
	for name, section := range sections {
		if err := decode(all[name], section); err != nil {
			return fmt.Errorf("unmarshal config: section %s: %v", name, err)
		}
	}

	return nil
}

func decode(input, output any) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           output,
	})
	if err != nil {
		return err
	}

	return d.Decode(input)
}
