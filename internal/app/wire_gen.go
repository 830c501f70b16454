//go:generate go run -mod=mod github.com/google/wire/cmd/wire
//go:build !wireinject

package app

import (
	"genesis/internal/config"
)

func buildAppWithWire(cfg *config.Config) (*App, error) {
	appBuilder := NewAppBuilder(cfg)
	app, err := provideAppFromBuilder(appBuilder)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func provideAppFromBuilder(b *AppBuilder) (*App, error) {
	return b.Build()
}
