package app

import (
	"github.com/vk/tradegrid/internal/registry"
	"github.com/vk/tradegrid/modules/analysts"
	"github.com/vk/tradegrid/modules/dispatch"
	"github.com/vk/tradegrid/modules/researchers"
	"github.com/vk/tradegrid/modules/risk"
	"github.com/vk/tradegrid/modules/trader"
)

// coreModules is the definitive list of all stage modules that are compiled
// into the tradegrid binary.
var coreModules = []registry.Module{
	&dispatch.Module{},
	&analysts.Module{},
	&researchers.Module{},
	&trader.Module{},
	&risk.Module{},
}
