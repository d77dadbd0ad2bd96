/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package telemetry

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// AsLogr adapts a zap logger to logr.Logger, so the authorization core's
// logging can be handed to collaborators that expect the logr surface
// (storage adapters, cron jobs, anything built against controller-runtime
// conventions) without every component committing to a single logging
// library.
func AsLogr(z *zap.Logger) logr.Logger {
	return zapr.NewLogger(z)
}
