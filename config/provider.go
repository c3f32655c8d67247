package config

import "go.uber.org/fx"

// NewProvider returns an fx option supplying the configuration. With a
// nil argument the environment is read instead, so consuming apps that
// wire fx themselves can depend on *Config directly.
func NewProvider(customConfig *Config) fx.Option {
	if customConfig != nil {
		return fx.Supply(customConfig)
	}

	return fx.Provide(func() (*Config, error) {
		cfg := &Config{}
		if err := LoadConfig(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	})
}
