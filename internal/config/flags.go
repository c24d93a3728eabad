package config

import (
	"github.com/spf13/pflag"
)

// Flags holds command-line overrides for keyway-server. Only flags that
// were set on the command line are applied.
type Flags struct {
	fs         *pflag.FlagSet
	v          Config
	configPath string
}

func NewFlags(name string) *Flags {
	f := &Flags{fs: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	d := Default()

	f.fs.StringVar(&f.configPath, "config", "", "YAML config file (env KEYWAY_CONFIG_FILE)")
	f.fs.StringVar(&f.v.HTTPAddr, "addr", d.HTTPAddr, "HTTP listen address")
	f.fs.StringVar(&f.v.Env, "env", d.Env, "environment: dev or prod")
	f.fs.StringVar(&f.v.Store, "store", d.Store, "store backend: sqlite or memory")
	f.fs.StringVar(&f.v.DBPath, "db", d.DBPath, "SQLite database path")
	f.fs.StringVar(&f.v.RedisURL, "redis", d.RedisURL, "Redis URL for cache and unlock limiter")
	f.fs.StringVar(&f.v.ActuatorAddr, "actuator", d.ActuatorAddr, "lock service gRPC address (empty uses the simulator)")
	f.fs.DurationVar(&f.v.ActuatorTimeout, "actuator-timeout", d.ActuatorTimeout, "unlock call timeout")
	f.fs.DurationVar(&f.v.SweepInterval, "sweep-interval", d.SweepInterval, "expiry sweep interval (0 disables)")
	f.fs.StringVar(&f.v.DefaultTimeZone, "tz", d.DefaultTimeZone, "default time zone for operating hours")
	return f
}

func (f *Flags) Parse(args []string) error {
	return f.fs.Parse(args)
}

func (f *Flags) ConfigPath() string {
	return f.configPath
}

// Apply copies every flag the user set onto c.
func (f *Flags) Apply(c *Config) {
	set := map[string]func(){
		"addr":             func() { c.HTTPAddr = f.v.HTTPAddr },
		"env":              func() { c.Env = f.v.Env },
		"store":            func() { c.Store = f.v.Store },
		"db":               func() { c.DBPath = f.v.DBPath },
		"redis":            func() { c.RedisURL = f.v.RedisURL },
		"actuator":         func() { c.ActuatorAddr = f.v.ActuatorAddr },
		"actuator-timeout": func() { c.ActuatorTimeout = f.v.ActuatorTimeout },
		"sweep-interval":   func() { c.SweepInterval = f.v.SweepInterval },
		"tz":               func() { c.DefaultTimeZone = f.v.DefaultTimeZone },
	}
	for name, apply := range set {
		if f.fs.Changed(name) {
			apply()
		}
	}
}
