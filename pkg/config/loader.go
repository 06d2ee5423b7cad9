package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Environment variable prefix for amsaf configuration.
const envPrefix = "AMSAF"

// envBinding connects a configuration key to the field it overrides
type envBinding struct {
	key   string
	env   string
	apply func(cfg *Config, v *viper.Viper, key string)
}

func setString(field func(*Config) *string) func(*Config, *viper.Viper, string) {
	return func(cfg *Config, v *viper.Viper, key string) {
		*field(cfg) = v.GetString(key)
	}
}

func setBool(field func(*Config) *bool) func(*Config, *viper.Viper, string) {
	return func(cfg *Config, v *viper.Viper, key string) {
		*field(cfg) = v.GetBool(key)
	}
}

// Stage overrides are not bound: parameter names are case sensitive and
// viper folds keys to lower case, so they come from the YAML file only.
var envBindings = []envBinding{
	{"inputs.unsegmentedImage", "AMSAF_UNSEGMENTED_IMAGE", setString(func(c *Config) *string { return &c.Inputs.UnsegmentedImage })},
	{"inputs.segmentedImage", "AMSAF_SEGMENTED_IMAGE", setString(func(c *Config) *string { return &c.Inputs.SegmentedImage })},
	{"inputs.segmentation", "AMSAF_SEGMENTATION", setString(func(c *Config) *string { return &c.Inputs.Segmentation })},
	{"inputs.reference", "AMSAF_REFERENCE", setString(func(c *Config) *string { return &c.Inputs.Reference })},
	{"inputs.ultrasound", "AMSAF_ULTRASOUND", setBool(func(c *Config) *bool { return &c.Inputs.Ultrasound })},
	{"registration.autoInit", "AMSAF_AUTO_INIT", setBool(func(c *Config) *bool { return &c.Registration.AutoInit })},
	{"registration.engine", "AMSAF_ENGINE", setString(func(c *Config) *string { return &c.Registration.Engine })},
	{"registration.elastixPath", "AMSAF_ELASTIX", setString(func(c *Config) *string { return &c.Registration.ElastixPath })},
	{"registration.transformixPath", "AMSAF_TRANSFORMIX", setString(func(c *Config) *string { return &c.Registration.TransformixPath })},
	{"registration.workDir", "AMSAF_WORK_DIR", setString(func(c *Config) *string { return &c.Registration.WorkDir })},
	{"output.dir", "AMSAF_OUTPUT_DIR", setString(func(c *Config) *string { return &c.Output.Dir })},
	{"output.writeTransforms", "AMSAF_WRITE_TRANSFORMS", setBool(func(c *Config) *bool { return &c.Output.WriteTransforms })},
	{"output.previews", "AMSAF_PREVIEWS", setBool(func(c *Config) *bool { return &c.Output.Previews })},
	{"output.verbose", "AMSAF_VERBOSE", setBool(func(c *Config) *bool { return &c.Output.Verbose })},
}

// Loader handles loading and merging configuration from the YAML file and
// the environment.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, b := range envBindings {
		_ = v.BindEnv(b.key, b.env)
	}

	return &Loader{v: v}
}

// Load loads configuration from the given file path. A missing file yields
// the defaults. Environment variables take precedence over file values.
func (l *Loader) Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
	}

	for _, b := range envBindings {
		if l.v.IsSet(b.key) {
			b.apply(cfg, l.v, b.key)
		}
	}
	return cfg, nil
}
