package system

import (
	"context"
	"runtime"

	"emperror.dev/errors"
	"github.com/shirou/gopsutil/v3/host"
)

type Information struct {
	Version       string `json:"version"`
	KernelVersion string `json:"kernel_version"`
	Architecture  string `json:"architecture"`
	OS            string `json:"os"`
	Platform      string `json:"platform"`
	CpuCount      int    `json:"cpu_count"`
	Uptime        uint64 `json:"uptime"`
}

func GetSystemInformation(ctx context.Context) (*Information, error) {
	h, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "system: failed to read host information")
	}

	s := &Information{
		Version:       Version,
		KernelVersion: h.KernelVersion,
		Architecture:  runtime.GOARCH,
		OS:            runtime.GOOS,
		Platform:      h.Platform,
		CpuCount:      runtime.NumCPU(),
		Uptime:        h.Uptime,
	}

	return s, nil
}
