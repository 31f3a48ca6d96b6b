package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/apex/log"

	"github.com/northstar-wraith/wraith/dispatch"
	"github.com/northstar-wraith/wraith/system"
)

// runConsole executes every line read from in as a command and writes the
// replies to out. Once a command made the supervisor exit every further line
// is ignored.
func runConsole(ctx context.Context, d *dispatch.Dispatcher, in io.Reader, out io.Writer) {
	exited := system.NewAtomicBool(false)
	err := system.ScanReader(in, func(line []byte) {
		if exited.Load() {
			return
		}
		cmd := strings.TrimSpace(string(line))
		if cmd == "" {
			return
		}
		log.WithField("command", cmd).Debug("console: executing command")
		res := d.Execute(ctx, cmd)
		for _, l := range strings.Split(res.Reply, "\n") {
			if l != "" {
				fmt.Fprintln(out, "< "+l)
			}
		}
		if res.Exit {
			exited.Store(true)
		}
	})
	if err != nil {
		log.WithField("error", err).Warn("console: failed to read from standard input")
	}
}
