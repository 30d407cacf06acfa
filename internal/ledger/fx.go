package ledger

import (
	"github.com/tubescribe/tubescribe/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(service.NewService),
)
