package feeassignment

import (
	"github.com/smallbiznis/bursar/internal/feeassignment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("feeassignment.service",
	fx.Provide(service.New),
)
