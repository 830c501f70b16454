//go:build wireinject

package app

import (
	"genesis/internal/config"

	"github.com/google/wire"
)

func buildAppWithWire(cfg *config.Config) (*App, error) {
	wire.Build(NewAppBuilder, provideAppFromBuilder)
	return nil, nil
}
