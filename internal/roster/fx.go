package roster

import (
	"github.com/smallbiznis/bursar/internal/roster/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("roster.repository",
	fx.Provide(repository.Provide),
)
