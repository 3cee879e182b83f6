//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"context"

	"github.com/google/wire"
	"github.com/zeusync/ecs/internal/config"
	"github.com/zeusync/ecs/internal/core/runtime"
)

func InitializeRuntime(ctx context.Context, cfg *config.Config) (*runtime.Context, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
