package app

import (
	"github.com/osvaldoandrade/gdtrelay/internal/controllers"
	"github.com/osvaldoandrade/gdtrelay/internal/middleware"
	"github.com/osvaldoandrade/gdtrelay/internal/webui"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/", webui.Handle)
	app.Engine.GET("/healthz", controllers.NewHealthController(app.Persistence).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	inspect := app.Engine.Group("/inspect")
	{
		inspect.POST("",
			middleware.RateLimitInspect(app.RateLimiter, app.Config),
			controllers.NewInspectController(app.Inspections, app.Config.MaxUploadBytes).Handle,
		)
		inspect.GET("/download/:filename", controllers.NewDownloadController(app.Artifacts).Handle)
	}

	inspections := app.Engine.Group("/inspections")
	{
		inspections.GET("", controllers.NewListInspectionsController(app.Inspections).Handle)
		inspections.GET("/:id", controllers.NewGetInspectionController(app.Inspections).Handle)
	}
}
