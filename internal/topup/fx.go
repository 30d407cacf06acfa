package topup

import (
	"github.com/tubescribe/tubescribe/internal/topup/service"
	"go.uber.org/fx"
)

var Module = fx.Module("topup.service",
	fx.Provide(service.NewService),
)
