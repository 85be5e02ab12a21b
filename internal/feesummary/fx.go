package feesummary

import (
	"github.com/smallbiznis/bursar/internal/feesummary/service"
	"go.uber.org/fx"
)

var Module = fx.Module("feesummary.service",
	fx.Provide(service.New),
)
