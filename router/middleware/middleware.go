package middleware

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"strings"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/northstar-wraith/wraith/dispatch"
	"github.com/northstar-wraith/wraith/metrics"
	"github.com/northstar-wraith/wraith/server"
)

// Supervisor is everything the API needs from the supervisor.
type Supervisor interface {
	dispatch.Supervisor
	Server(name string) (server.Snapshot, bool)
}

// AttachRequestID attaches a unique ID to the incoming HTTP request so that any
// errors that are generated or returned to the client will include this
// reference.
func AttachRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()
		c.Set("request_id", id)
		c.Set("logger", log.WithField("request_id", id))
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// AttachSupervisor attaches the supervisor to the request context which
// allows routes to access the fleet.
func AttachSupervisor(s Supervisor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("supervisor", s)
		c.Next()
	}
}

// AttachHistory attaches the event history to the request context. h may be
// nil when the history is not available.
func AttachHistory(h dispatch.History) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h != nil {
			c.Set("history", h)
		}
		c.Next()
	}
}

// RecordMetrics counts every request by method, route and response code.
func RecordMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// CaptureAndAbort aborts the request and attaches the provided error to the gin
// context, so it can be reported properly. If the error is missing a stacktrace
// at the time it is called the stack will be attached.
func CaptureAndAbort(c *gin.Context, err error) {
	c.Abort()
	c.Error(errors.WithStackDepthIf(err, 1))
}

// CaptureErrors is custom handler function allowing for errors bubbled up by
// c.Error() to be returned in a standardized format with tracking UUIDs on them
// for easier log searching.
func CaptureErrors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		err := c.Errors.Last()
		if err == nil || err.Err == nil {
			return
		}

		status := http.StatusInternalServerError
		if c.Writer.Status() != 200 {
			status = c.Writer.Status()
		}
		if err.Error() == io.EOF.Error() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "The data passed in the request was not in a parsable format. Please try again."})
			return
		}
		NewError(err.Err).Abort(c, status)
	}
}

// ServerExists will ensure that the requested server exists on this instance.
// Returns a 404 if we cannot locate it. If the server is found its name is set
// into the request context, and the logger for the context is also updated to
// include the server name in the fields list.
func ServerExists() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("server")
		var ok bool
		var s server.Snapshot
		if name != "" {
			s, ok = ExtractSupervisor(c).Server(name)
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "The requested resource does not exist on this instance."})
			return
		}
		c.Set("logger", ExtractLogger(c).WithField("server", s.Name))
		c.Set("server", s.Name)
		c.Next()
	}
}

// RequireAuthorization checks the bearer token of the request against the
// configured API token.
func RequireAuthorization(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(auth) != 2 || auth[0] != "Bearer" {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "The required authorization heads were not present in the request."})
			return
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(auth[1]), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "You are not authorized to access this endpoint."})
			return
		}
		c.Next()
	}
}

// DetachedContext returns a context for a supervisor operation that keeps
// running when the client goes away. Operations are never canceled halfway.
func DetachedContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

// ExtractLogger pulls the logger out of the request context and returns it. By
// default this will include the request ID, but may also include the server
// name if that middleware has been used in the chain by the time it is called.
func ExtractLogger(c *gin.Context) *log.Entry {
	v, ok := c.Get("logger")
	if !ok {
		panic("middleware/middleware: cannot extract logger: not present in request context")
	}
	return v.(*log.Entry)
}

// ExtractServer returns the name of the server from the gin.Context or panics
// if it is not present.
func ExtractServer(c *gin.Context) string {
	v, ok := c.Get("server")
	if !ok {
		panic("middleware/middleware: cannot extract server: not present in request context")
	}
	return v.(string)
}

// ExtractSupervisor returns the supervisor set on the request context.
func ExtractSupervisor(c *gin.Context) Supervisor {
	if v, ok := c.Get("supervisor"); ok {
		return v.(Supervisor)
	}
	panic("middleware/middleware: cannot extract supervisor: not present in context")
}

// ExtractHistory returns the event history, or nil if there is none.
func ExtractHistory(c *gin.Context) dispatch.History {
	if v, ok := c.Get("history"); ok {
		return v.(dispatch.History)
	}
	return nil
}
