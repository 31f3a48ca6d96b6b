// Package dispatch turns console commands into supervisor operations. Every
// command produces reply text; nothing in this package writes to the terminal.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"emperror.dev/errors"
	"github.com/dustin/go-humanize"

	"github.com/northstar-wraith/wraith/server"
	"github.com/northstar-wraith/wraith/system"
)

const ErrUnknownCommand = errors.Sentinel("dispatch: unknown command")

// Supervisor is the set of operations the console can trigger.
type Supervisor interface {
	Reload(ctx context.Context) (server.ReloadResult, error)
	Restart(ctx context.Context, name string) error
	RestartAll(ctx context.Context) error
	StopOld(ctx context.Context) ([]string, error)
	StopAll(ctx context.Context) error
	StopWraith(ctx context.Context) (server.RestoreRecord, error)
	Servers() []server.Snapshot
}

// History returns the most recent lifecycle events, newest first. An empty
// name returns the events of every server.
type History interface {
	History(ctx context.Context, name string, limit int) ([]server.Event, error)
}

// HistoryLimit is the number of events printed by "history".
const HistoryLimit = 20

// Result is the outcome of a single command.
type Result struct {
	Reply string
	// Exit is set once the supervisor has exited and the console should stop
	// reading commands.
	Exit bool
	Err  error
}

type handler func(ctx context.Context, args []string) Result

type entry struct {
	usage string
	help  string
	run   handler
}

type Dispatcher struct {
	sup      Supervisor
	history  History
	commands map[string]entry
	order    []string
}

// New returns a dispatcher for the supervisor. history may be nil, in which
// case the "history" command is not available.
func New(sup Supervisor, history History) *Dispatcher {
	d := &Dispatcher{sup: sup, history: history, commands: make(map[string]entry)}
	d.register("help", "help", "Display this list of commands", d.help)
	d.register("version", "version", "Display the version of wraith", d.version)
	d.register("list", "list", "List every server and its status", d.list)
	if history != nil {
		d.register("history", "history [name]", "Display recent server lifecycle events", d.events)
	}
	d.register("stopwraith", "stopwraith", "Stop wraith, keeping servers running and writing a restore file", d.stopWraith)
	d.register("stopall", "stopall", "Shutdown all servers and stop wraith", d.stopAll)
	d.register("restartall", "restartall", "Restart all servers", d.restartAll)
	d.register("restart", "restart [name]", "Restart a server by name", d.restart)
	d.register("reload", "reload", "Reload the configuration file, starting any added servers", d.reload)
	d.register("stopold", "stopold", "Stop any servers that have been removed from configuration", d.stopOld)
	d.commands["?"] = d.commands["help"]
	return d
}

func (d *Dispatcher) register(name, usage, help string, run handler) {
	d.commands[name] = entry{usage: usage, help: help, run: run}
	d.order = append(d.order, name)
}

// Execute runs a single console line.
func (d *Dispatcher) Execute(ctx context.Context, line string) Result {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Result{}
	}
	e, ok := d.commands[strings.ToLower(fields[0])]
	if !ok {
		err := errors.WithDetails(errors.WithStack(ErrUnknownCommand), "command", fields[0])
		return Result{Reply: fmt.Sprintf("Unknown command %q, type \"help\" for a list of commands", fields[0]), Err: err}
	}
	return e.run(ctx, fields[1:])
}

// Commands returns the names of every command in the order they are listed
// by "help".
func (d *Dispatcher) Commands() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

func failed(err error, format string, a ...interface{}) Result {
	return Result{Reply: fmt.Sprintf(format, a...) + ": " + err.Error(), Err: err}
}

func (d *Dispatcher) help(context.Context, []string) Result {
	w := &bytes.Buffer{}
	fmt.Fprintln(w, "Available commands:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range d.order {
		e := d.commands[name]
		fmt.Fprintf(tw, "  %s\t%s\n", e.usage, e.help)
	}
	tw.Flush()
	return Result{Reply: strings.TrimRight(w.String(), "\n")}
}

func (d *Dispatcher) version(context.Context, []string) Result {
	return Result{Reply: "wraith " + system.Version}
}

func (d *Dispatcher) list(context.Context, []string) Result {
	servers := d.sup.Servers()
	if len(servers) == 0 {
		return Result{Reply: "No servers are configured"}
	}
	w := &bytes.Buffer{}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tPID\tAUTH\tGAME\tCRASHES\tSTARTED")
	for _, s := range servers {
		status := string(s.Status)
		if s.Orphaned {
			status += " (removed)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			s.Name, status, orDash(s.PID), orDash(s.AuthPort), orDash(s.GamePort), s.Crashes, since(s.StartedAt))
	}
	tw.Flush()
	return Result{Reply: strings.TrimRight(w.String(), "\n")}
}

func (d *Dispatcher) events(ctx context.Context, args []string) Result {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	events, err := d.history.History(ctx, name, HistoryLimit)
	if err != nil {
		return failed(err, "Failed to read server history")
	}
	if len(events) == 0 {
		return Result{Reply: "No events have been recorded"}
	}
	w := &bytes.Buffer{}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s", e.At.Local().Format(time.DateTime), e.Server, e.Type, orDash(e.PID))
		if e.Error != "" {
			fmt.Fprintf(tw, "\t%s", e.Error)
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
	return Result{Reply: strings.TrimRight(w.String(), "\n")}
}

func (d *Dispatcher) stopWraith(ctx context.Context, _ []string) Result {
	rec, err := d.sup.StopWraith(ctx)
	if err != nil {
		return failed(err, "Failed to stop wraith, servers are still supervised")
	}
	return Result{
		Reply: fmt.Sprintf("Stopped wraith, left %d %s running", len(rec.Servers), plural(len(rec.Servers), "server")),
		Exit:  true,
	}
}

func (d *Dispatcher) stopAll(ctx context.Context, _ []string) Result {
	if err := d.sup.StopAll(ctx); err != nil {
		return failed(err, "Failed to stop every server")
	}
	return Result{Reply: "Stopped all servers", Exit: true}
}

func (d *Dispatcher) restartAll(ctx context.Context, _ []string) Result {
	if err := d.sup.RestartAll(ctx); err != nil {
		return failed(err, "Failed to restart some servers")
	}
	return Result{Reply: "Restarted all servers"}
}

func (d *Dispatcher) restart(ctx context.Context, args []string) Result {
	if len(args) == 0 {
		return Result{Reply: "Usage: restart [name]"}
	}
	name := strings.Join(args, " ")
	if err := d.sup.Restart(ctx, name); err != nil {
		if server.IsNotFound(err) {
			return Result{Reply: fmt.Sprintf("No server named %q", name), Err: err}
		}
		return failed(err, "Failed to restart %s", name)
	}
	return Result{Reply: "Restarted " + name}
}

func (d *Dispatcher) reload(ctx context.Context, _ []string) Result {
	res, err := d.sup.Reload(ctx)
	if err != nil {
		return failed(err, "Failed to reload configuration")
	}
	var lines []string
	if len(res.Started) > 0 {
		lines = append(lines, "Started "+strings.Join(res.Started, ", "))
	}
	names := make([]string, 0, len(res.Failed))
	for name := range res.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("Failed to start %s: %s", name, res.Failed[name]))
	}
	if len(res.Changed) > 0 {
		lines = append(lines, "Changed, restart to apply: "+strings.Join(res.Changed, ", "))
	}
	if len(res.Orphaned) > 0 {
		lines = append(lines, "Removed from configuration, use stopold to stop: "+strings.Join(res.Orphaned, ", "))
	}
	if len(lines) == 0 {
		return Result{Reply: "Configuration reloaded, nothing to do"}
	}
	return Result{Reply: strings.Join(lines, "\n")}
}

func (d *Dispatcher) stopOld(ctx context.Context, _ []string) Result {
	evicted, err := d.sup.StopOld(ctx)
	if len(evicted) == 0 && err == nil {
		return Result{Reply: "No removed servers are running"}
	}
	reply := ""
	if len(evicted) > 0 {
		reply = "Stopped " + strings.Join(evicted, ", ")
	}
	if err != nil {
		r := failed(err, "Failed to stop some removed servers")
		if reply != "" {
			r.Reply = reply + "\n" + r.Reply
		}
		return r
	}
	return Result{Reply: reply}
}

func orDash[T int32 | uint16](v T) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprint(v)
}

func since(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}

func plural(n int, s string) string {
	if n == 1 {
		return s
	}
	return s + "s"
}
