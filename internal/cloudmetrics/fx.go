package cloudmetrics

import (
	"go.uber.org/fx"
)

// Module provides the cloud accounting channel. The collector is nil
// unless cloud metrics are enabled; pushing is driven by the scheduler
// rather than a lifecycle ticker so a replica that loses the job lease
// does not double-report.
var Module = fx.Module("cloudmetrics",
	fx.Provide(NewPusher),
	fx.Provide(NewCollector),
)
