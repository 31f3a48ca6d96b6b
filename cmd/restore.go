package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"emperror.dev/errors"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/northstar-wraith/wraith/process"
	"github.com/northstar-wraith/wraith/server"
)

var restoreArgs struct {
	JSON bool
}

func newRestoreCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "restore",
		Short: "Inspect the restore record written by \"stopwraith\".",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the servers wraith will attach to on its next start.",
		RunE:  restoreShowCmdRun,
	}
	show.Flags().BoolVar(&restoreArgs.JSON, "json", false, "print the raw record")
	command.AddCommand(show)
	return command
}

func restoreShowCmdRun(cmd *cobra.Command, _ []string) error {
	c, err := readConfiguration(cmd)
	if err != nil {
		return err
	}
	store := server.NewRestoreStore(c.RestorePath())
	rec, err := store.Read()
	if err != nil {
		if errors.Is(err, server.ErrRestoreNotFound) {
			fmt.Printf("No restore record at %s\n", store.Path)
			return nil
		}
		return err
	}
	if restoreArgs.JSON {
		b, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return errors.WithStack(err)
		}
		fmt.Println(string(b))
		return nil
	}

	tracker := process.NewOSTracker()
	fmt.Printf("Restore record %s\n  written by %s at %s\n\n", store.Path, rec.Instance, rec.DetachedAt.Local().Format("2006-01-02 15:04:05"))
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPID\tAUTH\tGAME\tALIVE")
	for _, e := range rec.Servers {
		pid, alive := "-", "no"
		if e.Identity != nil {
			pid = fmt.Sprint(e.Identity.PID)
			if tracker.IsAlive(cmd.Context(), *e.Identity) {
				alive = "yes"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", e.Name, pid, e.Ports.AuthPort, e.Ports.GamePort, alive)
	}
	return tw.Flush()
}
