package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/northstar-wraith/wraith/config"
	"github.com/northstar-wraith/wraith/loggers/cli"
	"github.com/northstar-wraith/wraith/process"
	"github.com/northstar-wraith/wraith/server"
	"github.com/northstar-wraith/wraith/system"
)

const DefaultLogLines = 200

var diagnosticsArgs struct {
	IncludeSecrets bool
	IncludeLogs    bool
	LogLines       int
	Yes            bool
}

func newDiagnosticsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "diagnostics",
		Short: "Collect and report information about this wraith instance to assist in debugging.",
		PreRun: func(cmd *cobra.Command, args []string) {
			log.SetHandler(cli.Default)
		},
		RunE: diagnosticsCmdRun,
	}

	command.Flags().IntVar(&diagnosticsArgs.LogLines, "log-lines", DefaultLogLines, "the number of log lines to include in the report")
	command.Flags().BoolVarP(&diagnosticsArgs.Yes, "yes", "y", false, "include logs without asking, secrets stay redacted")

	return command
}

// diagnosticsCmdRun collects diagnostics about wraith, its configuration and
// the host. We collect:
// - wraith and host versions
// - relevant parts of the configuration
// - the resolved servers and the restore record
// - logs
func diagnosticsCmdRun(cmd *cobra.Command, _ []string) error {
	if diagnosticsArgs.Yes {
		diagnosticsArgs.IncludeLogs = true
	} else {
		questions := []*survey.Question{
			{
				Name: "IncludeSecrets",
				Prompt: &survey.Confirm{
					Message: "Do you want to include server passwords and the API token?",
					Default: false,
				},
			},
			{
				Name:   "IncludeLogs",
				Prompt: &survey.Confirm{Message: "Do you want to include the latest logs?", Default: true},
			},
		}
		if err := survey.Ask(questions, &diagnosticsArgs); err != nil {
			if err == terminal.InterruptErr {
				return nil
			}
			return errors.WithStack(err)
		}
	}

	c, cerr := readConfiguration(cmd)

	output := &strings.Builder{}
	fmt.Fprintln(output, "wraith - Diagnostics Report")
	writeDiagnostics(cmd.Context(), output, c, cerr)

	fmt.Println("\n---------------  generated report  ---------------")
	fmt.Println(output.String())
	fmt.Print("---------------   end of report    ---------------\n\n")
	return nil
}

func writeDiagnostics(ctx context.Context, output io.Writer, c *config.Configuration, cerr error) {
	printHeader(output, "Versions")
	fmt.Fprintln(output, "              wraith:", system.Version)
	if info, err := system.GetSystemInformation(ctx); err == nil {
		fmt.Fprintln(output, "              Kernel:", info.KernelVersion)
		fmt.Fprintln(output, "                  OS:", info.OS, info.Platform, info.Architecture)
		fmt.Fprintln(output, "                CPUs:", info.CpuCount)
		fmt.Fprintln(output, "              Uptime:", time.Duration(info.Uptime)*time.Second)
	} else {
		fmt.Fprintln(output, "  Host information unavailable:", err)
	}

	printHeader(output, "wraith Configuration")
	if cerr != nil {
		fmt.Fprintln(output, "Failed to load configuration:", cerr)
		return
	}
	fmt.Fprintln(output, "                Path:", c.Path())
	fmt.Fprintln(output, "       Poll Interval:", c.PollInterval())
	fmt.Fprintln(output, "          Auth Ports:", c.AuthPorts)
	fmt.Fprintln(output, "          Game Ports:", c.GamePorts)
	fmt.Fprintln(output, "")
	fmt.Fprintln(output, "      Root Directory:", c.RootPath())
	fmt.Fprintln(output, "      Logs Directory:", c.LogPath())
	fmt.Fprintln(output, "            Database:", c.DatabasePath())
	fmt.Fprintln(output, "      Restore Record:", c.RestorePath())
	fmt.Fprintln(output, "")
	fmt.Fprintln(output, "     Check Host Ports:", c.System.CheckHostPorts)
	fmt.Fprintln(output, "       Crash Backoff:", c.System.CrashDetection.Backoff)
	fmt.Fprintln(output, "  Internal Webserver:", c.Api.Enabled, fmt.Sprintf("%s:%d", c.Api.Host, c.Api.Port))
	fmt.Fprintln(output, "           API Token:", redact(c.Api.Token))
	fmt.Fprintln(output, "         Server Time:", time.Now().Format(time.RFC1123Z))
	fmt.Fprintln(output, "          Debug Mode:", c.Debug)

	printHeader(output, "Servers")
	specs, err := c.Specs()
	if err != nil {
		fmt.Fprintln(output, "Failed to resolve servers:", err)
	}
	for _, s := range specs {
		fmt.Fprintf(output, "%s (%s)\n", s.Name, s.DisplayName)
		fmt.Fprintln(output, "    Executable:", s.Executable)
		fmt.Fprintln(output, "      Game Dir:", s.GameDir)
		fmt.Fprintln(output, "      Playlist:", s.Playlist)
		fmt.Fprintln(output, "      Password:", redact(s.Password))
		if s.AuthPort != nil {
			fmt.Fprintln(output, "     Auth Port:", *s.AuthPort)
		}
		if s.GamePort != nil {
			fmt.Fprintln(output, "     Game Port:", *s.GamePort)
		}
		if s.RestartSchedule != "" {
			fmt.Fprintln(output, "      Restarts:", s.RestartSchedule)
		}
	}

	printHeader(output, "Restore Record")
	rec, err := server.NewRestoreStore(c.RestorePath()).Read()
	switch {
	case errors.Is(err, server.ErrRestoreNotFound):
		fmt.Fprintln(output, "None.")
	case err != nil:
		fmt.Fprintln(output, err)
	default:
		tracker := process.NewOSTracker()
		fmt.Fprintf(output, "Written by %s at %s\n", rec.Instance, rec.DetachedAt.Format(time.RFC1123Z))
		for _, e := range rec.Servers {
			state := "relaunch pending"
			if e.Identity != nil {
				state = "pid " + e.Identity.String()
				if !tracker.IsAlive(ctx, *e.Identity) {
					state += " (gone)"
				}
			}
			fmt.Fprintf(output, "  %s: %s, %s\n", e.Name, e.Ports, state)
		}
	}

	printHeader(output, "Latest wraith Logs")
	if !diagnosticsArgs.IncludeLogs {
		fmt.Fprintln(output, "Logs redacted.")
		return
	}
	lines, err := tailFile(filepath.Join(c.LogPath(), "wraith.log"), diagnosticsArgs.LogLines)
	if err != nil {
		fmt.Fprintln(output, "No logs found or an error occurred.")
		return
	}
	for _, l := range lines {
		fmt.Fprintln(output, l)
	}
}

// tailFile returns at most the last n lines of the file.
func tailFile(p string, n int) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	err = system.ScanReader(f, func(line []byte) {
		lines = append(lines, string(line))
		if n > 0 && len(lines) > n {
			lines = lines[1:]
		}
	})
	return lines, err
}

func redact(s string) string {
	if s == "" {
		return "(not set)"
	}
	if !diagnosticsArgs.IncludeSecrets {
		return "{redacted}"
	}
	return s
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, "\n|\n|", title)
	fmt.Fprintln(w, "| ------------------------------")
}
