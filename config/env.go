package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/xerrors"
)

// Env are the runtime settings of the command line tool. Flags take
// precedence over them.
type Env struct {
	DB      string        `env:"RAFFLE_DB"       envDefault:"raffle.db"`
	Config  string        `env:"RAFFLE_CONFIG"`
	ChainID uint64        `env:"RAFFLE_CHAIN_ID" envDefault:"31337"`
	Poll    time.Duration `env:"RAFFLE_POLL"     envDefault:"1s"`
	Debug   int           `env:"RAFFLE_DEBUG"    envDefault:"0"`
}

// LoadEnv reads the settings from the environment.
func LoadEnv() (*Env, error) {
	e := &Env{}
	if err := env.Parse(e); err != nil {
		return nil, xerrors.Errorf("couldn't parse environment: %v", err)
	}
	return e, nil
}
