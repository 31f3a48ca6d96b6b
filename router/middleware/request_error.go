package middleware

import (
	"context"
	"net/http"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"github.com/northstar-wraith/wraith/ports"
	"github.com/northstar-wraith/wraith/process"
	"github.com/northstar-wraith/wraith/server"
)

const genericErrorMessage = "An unexpected error was encountered while processing this request"

// RequestError wraps an error bubbled up by a handler together with the
// response it should produce.
type RequestError struct {
	err    error
	status int
	msg    string
}

// NewError returns a RequestError for err. Errors returned by supervisor
// operations get a matching status code and message, everything else is
// reported as an internal error.
func NewError(err error) *RequestError {
	re := &RequestError{err: errors.WithStackDepthIf(err, 1)}
	re.status, re.msg = classify(err)
	return re
}

// SetMessage replaces the message returned to the client.
func (re *RequestError) SetMessage(m string) {
	re.msg = m
}

// SetStatus replaces the status code of the response.
func (re *RequestError) SetStatus(s int) {
	re.status = s
}

// Status returns the status code of the response, falling back to def when
// none was set.
func (re *RequestError) Status(def int) int {
	if re.status != 0 {
		return re.status
	}
	return def
}

// Abort writes the error response and logs the failure along with the request
// ID, so the two can be matched up.
func (re *RequestError) Abort(c *gin.Context, status int) {
	status = re.Status(status)
	reqId := c.Writer.Header().Get("X-Request-Id")

	entry := log.WithFields(log.Fields{
		"request_id": reqId,
		"url":        c.Request.URL.String(),
		"status":     status,
		"error":      re.err,
	})
	if s := c.GetString("server"); s != "" {
		entry = entry.WithField("server", s)
	}
	if status >= http.StatusInternalServerError {
		entry.Error("error while handling HTTP request")
	} else {
		entry.Debug("error handling HTTP request (not a server error)")
	}

	msg := re.msg
	if msg == "" {
		msg = genericErrorMessage
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "request_id": reqId})
}

// Cause returns the underlying error.
func (re *RequestError) Cause() error {
	return re.err
}

func (re *RequestError) Error() string {
	return re.err.Error()
}

func classify(err error) (int, string) {
	switch {
	case err == nil:
		return 0, ""
	case server.IsNotFound(err):
		return http.StatusNotFound, "The requested resource does not exist on this instance."
	case errors.Is(err, ports.ErrPortsExhausted), errors.Is(err, ports.ErrPortInUse):
		return http.StatusConflict, "There are no free ports left to start this server."
	case errors.Is(err, server.ErrSupervisorStopped):
		return http.StatusServiceUnavailable, "The supervisor is shutting down."
	case process.IsLaunchError(err):
		return http.StatusBadGateway, "The server process could not be started: " + errors.Cause(err).Error()
	case process.IsTerminateError(err):
		return http.StatusBadGateway, "The server process could not be stopped: " + errors.Cause(err).Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "The server could not process this request in time, please try again."
	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest, "Request aborted by client."
	}
	return 0, ""
}
