// Package cli is an apex/log handler that writes aligned, colored entries to
// a terminal. Entries about a single server are prefixed with its name.
package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
)

var Default = New(os.Stderr, true)

var (
	bold    = color.New(color.Bold)
	boldred = color.New(color.Bold, color.FgRed)
	cyan    = color.New(color.FgCyan)
)

var Strings = [...]string{
	log.DebugLevel: "DEBUG",
	log.InfoLevel:  " INFO",
	log.WarnLevel:  " WARN",
	log.ErrorLevel: "ERROR",
	log.FatalLevel: "FATAL",
}

type Handler struct {
	mu      sync.Mutex
	Writer  io.Writer
	Padding int
	// Stacktraces prints the stack of an "error" field below the entry. Only
	// entries at warn level or above carry one.
	Stacktraces bool
}

func New(w io.Writer, useColors bool) *Handler {
	if f, ok := w.(*os.File); ok && useColors {
		return &Handler{Writer: colorable.NewColorable(f), Padding: 2, Stacktraces: true}
	}
	return &Handler{Writer: colorable.NewNonColorable(w), Padding: 2, Stacktraces: true}
}

// HandleLog implements log.Handler.
func (h *Handler) HandleLog(e *log.Entry) error {
	c := cli.Colors[e.Level]
	level := Strings[e.Level]
	names := e.Fields.Names()

	msg := e.Message
	if s, ok := e.Fields.Get("server").(string); ok && s != "" {
		msg = cyan.Sprintf("[%s]", s) + " " + msg
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c.Fprintf(h.Writer, "%s: [%s] %-25s", bold.Sprintf("%*s", h.Padding+1, level), time.Now().Format(time.StampMilli), msg)

	for _, name := range names {
		if name == "source" || name == "server" {
			continue
		}
		fmt.Fprintf(h.Writer, " %s=%v", c.Sprint(name), e.Fields.Get(name))
	}

	fmt.Fprintln(h.Writer)

	if !h.Stacktraces || e.Level < log.WarnLevel {
		return nil
	}
	if err, ok := e.Fields.Get("error").(error); ok {
		// Attach the stacktrace if it is missing at this point, but don't point
		// it specifically to this line since that is irrelevant.
		err = errors.WithStackDepthIf(err, 1)
		fmt.Fprintf(h.Writer, "\n%s\n%+v\n\n", boldred.Sprintf("Stacktrace:"), err)
	}

	return nil
}
