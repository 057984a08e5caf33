package fulfillment

import (
	"github.com/smallbiznis/courseaccess/internal/fulfillment/repository"
	"github.com/smallbiznis/courseaccess/internal/fulfillment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fulfillment.service",
	fx.Provide(repository.New),
	fx.Provide(service.NewService),
)
