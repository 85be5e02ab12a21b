package feecatalog

import (
	"github.com/smallbiznis/bursar/internal/feecatalog/repository"
	"github.com/smallbiznis/bursar/internal/feecatalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("feecatalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
