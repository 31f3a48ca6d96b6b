package router

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/northstar-wraith/wraith/dispatch"
	"github.com/northstar-wraith/wraith/router/middleware"
)

// Returns a single server.
func getServer(c *gin.Context) {
	s, ok := middleware.ExtractSupervisor(c).Server(middleware.ExtractServer(c))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "The requested resource does not exist on this instance."})
		return
	}
	c.JSON(http.StatusOK, s)
}

// Returns the most recent lifecycle events of a server, newest first.
func getServerEvents(c *gin.Context) {
	h := middleware.ExtractHistory(c)
	if h == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Server history is not enabled on this instance."})
		return
	}
	limit := dispatch.HistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "The limit must be a number between 1 and 1000."})
			return
		}
		limit = n
	}
	events, err := h.History(c.Request.Context(), middleware.ExtractServer(c), limit)
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// Stops a server and starts it again with its latest configuration.
func postServerRestart(c *gin.Context) {
	name := middleware.ExtractServer(c)
	if err := middleware.ExtractSupervisor(c).Restart(middleware.DetachedContext(c), name); err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	s, _ := middleware.ExtractSupervisor(c).Server(name)
	c.JSON(http.StatusOK, s)
}
