//go:build !windows

package process

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// setPriority maps the priority class onto a nice value. Raising priority
// requires CAP_SYS_NICE or root.
func setPriority(pid int, p Priority) error {
	nice := 0
	switch p {
	case PriorityHigh:
		nice = -10
	case PriorityRealTime:
		nice = -20
	}
	return unix.Setpriority(unix.PRIO_PROCESS, pid, nice)
}
