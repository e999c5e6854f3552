package config

import (
	"flag"
	"os"
)

// DefaultPath is used when neither -config nor ACCRUE_CONFIG is set.
const DefaultPath = "accrue.yaml"

// Flags holds command line overrides shared by the commands.
type Flags struct {
	Path   string
	Listen string
}

// Register binds the flags to fs.
func (f *Flags) Register(fs *flag.FlagSet) {
	fs.StringVar(&f.Path, "config", "", "path to the YAML config (default $ACCRUE_CONFIG or "+DefaultPath+")")
	fs.StringVar(&f.Listen, "listen", "", "override web.listen")
}

// ConfigPath resolves the config file location.
func (f *Flags) ConfigPath() string {
	if f.Path != "" {
		return f.Path
	}
	if env := os.Getenv("ACCRUE_CONFIG"); env != "" {
		return env
	}
	return DefaultPath
}

// Get loads the config at ConfigPath and applies the overrides.
func (f *Flags) Get() (Config, error) {
	c, err := Load(f.ConfigPath())
	if err != nil {
		return Config{}, err
	}
	if f.Listen != "" {
		c.Web.Listen = f.Listen
	}
	return c, nil
}
