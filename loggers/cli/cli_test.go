package cli

import (
	"bytes"
	"testing"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func entry(level log.Level, msg string, fields log.Fields) *log.Entry {
	e := log.NewEntry(log.Log.(*log.Logger)).WithFields(fields)
	e.Level = level
	e.Message = msg
	return e
}

func TestHandleLog(t *testing.T) {
	t.Run("server name prefixes the message", func(t *testing.T) {
		var buf bytes.Buffer
		h := New(&buf, false)

		assert.NoError(t, h.HandleLog(entry(log.InfoLevel, "started server", log.Fields{"server": "alpha", "pid": 42})))

		out := buf.String()
		assert.Contains(t, out, " INFO")
		assert.Contains(t, out, "[alpha] started server")
		assert.Contains(t, out, "pid=42")
		assert.NotContains(t, out, "server=")
	})

	t.Run("stacktraces are only attached to warnings and errors", func(t *testing.T) {
		var buf bytes.Buffer
		h := New(&buf, false)

		_ = h.HandleLog(entry(log.InfoLevel, "retrying", log.Fields{"error": errors.New("boom")}))
		assert.NotContains(t, buf.String(), "Stacktrace:")

		_ = h.HandleLog(entry(log.ErrorLevel, "failed", log.Fields{"error": errors.New("boom")}))
		assert.Contains(t, buf.String(), "Stacktrace:")
	})

	t.Run("stacktraces can be disabled", func(t *testing.T) {
		var buf bytes.Buffer
		h := New(&buf, false)
		h.Stacktraces = false

		_ = h.HandleLog(entry(log.ErrorLevel, "failed", log.Fields{"error": errors.New("boom")}))
		assert.NotContains(t, buf.String(), "Stacktrace:")
	})
}
