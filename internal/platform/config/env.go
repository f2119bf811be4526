package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env is the process environment read by cmd/server and cmd/replay.
// Flags override the directory settings; the rest is env-only.
type Env struct {
	DataDir   string `env:"HYDRONET_DATA_DIR" envDefault:"./data"`
	ConfigDir string `env:"HYDRONET_CONFIG_DIR" envDefault:"./configs"`

	EnableAdminHTTP bool `env:"HYDRONET_ENABLE_ADMIN_HTTP" envDefault:"true"`
	DisableDB       bool `env:"HYDRONET_DISABLE_DB"`
	// IndexBackend selects the read-model index: sqlite or none.
	IndexBackend string `env:"HYDRONET_INDEX_BACKEND" envDefault:"sqlite"`

	// ArchiveEveryTicks copies every snapshot that closes a block of this
	// many ticks into archives/. Zero disables archiving.
	ArchiveEveryTicks uint64 `env:"HYDRONET_ARCHIVE_EVERY_TICKS" envDefault:"0"`

	ServiceName  string `env:"HYDRONET_SERVICE_NAME" envDefault:"hydronet"`
	OTelEndpoint string `env:"HYDRONET_OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"HYDRONET_OTEL_ENABLED" envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadEnv parses Env with its defaults applied.
func LoadEnv() (Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}
