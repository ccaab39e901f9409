// Package config loads environment-based configuration structs.
//
// Every component in billingkit declares its own Config struct with `env`
// tags and loads it through Load or MustLoad. A .env file is read once per
// process before the first parse, which keeps local development friction-free
// without affecting deployments where real environment variables are set.
//
// Example:
//
//	type WorkerConfig struct {
//		Interval time.Duration `env:"DUNNING_INTERVAL" envDefault:"30m"`
//	}
//
//	var cfg WorkerConfig
//	config.MustLoad(&cfg)
package config
