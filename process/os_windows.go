//go:build windows

package process

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

func setPriority(pid int, p Priority) error {
	class := uint32(windows.NORMAL_PRIORITY_CLASS)
	switch p {
	case PriorityHigh:
		class = windows.HIGH_PRIORITY_CLASS
	case PriorityRealTime:
		class = windows.REALTIME_PRIORITY_CLASS
	}
	h, err := windows.OpenProcess(windows.PROCESS_SET_INFORMATION, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.SetPriorityClass(h, class)
}
