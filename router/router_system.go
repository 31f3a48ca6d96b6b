package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/northstar-wraith/wraith/router/middleware"
	"github.com/northstar-wraith/wraith/system"
)

// Returns information about the system that wraith is running on.
func getSystemInformation(c *gin.Context) {
	i, err := system.GetSystemInformation(c.Request.Context())
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, i)
}

// Returns every server known to the supervisor.
func getAllServers(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.ExtractSupervisor(c).Servers())
}

type reloadResponse struct {
	Started  []string          `json:"started"`
	Failed   map[string]string `json:"failed"`
	Orphaned []string          `json:"orphaned"`
	Changed  []string          `json:"changed"`
}

// Reads the configuration file again and starts every server that was added.
func postReload(c *gin.Context) {
	res, err := middleware.ExtractSupervisor(c).Reload(middleware.DetachedContext(c))
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	out := reloadResponse{
		Started:  nonNil(res.Started),
		Failed:   make(map[string]string, len(res.Failed)),
		Orphaned: nonNil(res.Orphaned),
		Changed:  nonNil(res.Changed),
	}
	for name, err := range res.Failed {
		out.Failed[name] = err.Error()
	}
	c.JSON(http.StatusOK, out)
}

// Restarts every server.
func postRestartAll(c *gin.Context) {
	if err := middleware.ExtractSupervisor(c).RestartAll(middleware.DetachedContext(c)); err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stops every server that is no longer in the configuration.
func postStopOld(c *gin.Context) {
	stopped, err := middleware.ExtractSupervisor(c).StopOld(middleware.DetachedContext(c))
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": nonNil(stopped)})
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
