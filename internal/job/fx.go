package job

import (
	"github.com/tubescribe/tubescribe/internal/job/service"
	"go.uber.org/fx"
)

var Module = fx.Module("job",
	fx.Provide(
		service.NewService,
	),
)
