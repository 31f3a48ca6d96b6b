package router

import (
	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"github.com/northstar-wraith/wraith/dispatch"
	"github.com/northstar-wraith/wraith/metrics"
	"github.com/northstar-wraith/wraith/router/middleware"
)

// Configure configures the routing infrastructure for this supervisor
// instance.
func Configure(sup middleware.Supervisor, history dispatch.History, token string) *gin.Engine {
	gin.SetMode("release")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.AttachRequestID(), middleware.CaptureErrors(), middleware.RecordMetrics())
	router.Use(middleware.AttachSupervisor(sup), middleware.AttachHistory(history))
	// @see https://github.com/gin-gonic/gin#dont-trust-all-proxies
	_ = router.SetTrustedProxies(nil)

	router.Use(gin.LoggerWithFormatter(func(params gin.LogFormatterParams) string {
		log.WithFields(log.Fields{
			"client_ip":  params.ClientIP,
			"status":     params.StatusCode,
			"latency":    params.Latency,
			"request_id": params.Keys["request_id"],
		}).Debugf("%s %s", params.MethodColor()+params.Method+params.ResetColor(), params.Path)

		return ""
	}))

	// All the routes beyond this mount will use an authorization middleware
	// and will not be accessible without the correct Authorization header
	// provided.
	protected := router.Group("")
	protected.Use(middleware.RequireAuthorization(token))
	protected.GET("/metrics", gin.WrapH(metrics.Handler()))
	protected.GET("/api/system", getSystemInformation)
	protected.GET("/api/servers", getAllServers)
	protected.POST("/api/reload", postReload)
	protected.POST("/api/restartall", postRestartAll)
	protected.POST("/api/stopold", postStopOld)

	// These are server specific routes, and require that the request be
	// authorized, and that the server exist on the supervisor.
	server := router.Group("/api/servers/:server")
	server.Use(middleware.RequireAuthorization(token), middleware.ServerExists())
	{
		server.GET("", getServer)
		server.GET("/events", getServerEvents)
		server.POST("/restart", postServerRestart)
	}

	return router
}
