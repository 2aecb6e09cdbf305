package server

import (
	"GradeLane/internal/biz"

	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(
	NewHTTPServer,
	NewProgressHub,
	wire.Bind(new(biz.ProgressNotifier), new(*ProgressHub)),
)
