package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/PropServe/internal/pkg/constants"
)

// OpsRouter mounts metrics and operator endpoints behind basic auth.
type OpsRouter struct {
	deps Deps
}

func (h OpsRouter) InstallRouter(app *fiber.App) {
	if h.deps.Ops != nil {
		app.Get(constants.HealthRoute, h.deps.Ops.HandleHealth)
	}

	auth := basicauth.New(basicauth.Config{Users: h.deps.OpsUsers})

	app.Get(constants.MetricsRoute, auth, adaptor.HTTPHandler(promhttp.Handler()))

	ops := app.Group(constants.OpsRoute, auth)
	ops.Get("/monitor", monitor.New(monitor.Config{Title: "PropServe Monitor"}))
	if h.deps.Ops != nil {
		ops.Get("/queue", h.deps.Ops.HandleQueueStats)
		ops.Post("/sweep", h.deps.Ops.HandleSweep)
	}
}

func NewOpsRouter(deps Deps) *OpsRouter {
	return &OpsRouter{deps: deps}
}
