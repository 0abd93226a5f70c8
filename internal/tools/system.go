package tools

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const gib = 1 << 30

// systemInfo reports the host the tools run on. Values that cannot be read
// show as unknown.
func (t *Toolset) systemInfo(ctx context.Context, _ []string) (string, error) {
	osInfo, kernel, arch, hostname := "unknown", "unknown", runtime.GOARCH, "unknown"
	if hi, err := host.InfoWithContext(ctx); err == nil {
		osInfo = strings.TrimSpace(fmt.Sprintf("%s %s %s", hi.OS, hi.Platform, hi.PlatformVersion))
		kernel = hi.KernelVersion
		if hi.KernelArch != "" {
			arch = hi.KernelArch
		}
		hostname = hi.Hostname
	}

	cpuModel := "unknown"
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		cpuModel = infos[0].ModelName
	}

	ram := "unknown"
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ram = fmt.Sprintf("%.1f GB total, %.1f GB available (%.0f%% used)",
			float64(vm.Total)/gib, float64(vm.Available)/gib, vm.UsedPercent)
	}

	space := "unknown"
	if du, err := disk.UsageWithContext(ctx, t.root); err == nil {
		space = fmt.Sprintf("%.1f GB free of %.1f GB", float64(du.Free)/gib, float64(du.Total)/gib)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "host:          %s\n", hostname)
	fmt.Fprintf(&b, "os:            %s\n", osInfo)
	fmt.Fprintf(&b, "kernel:        %s\n", kernel)
	fmt.Fprintf(&b, "arch:          %s\n", arch)
	fmt.Fprintf(&b, "cpu:           %s (%d cores)\n", cpuModel, runtime.NumCPU())
	fmt.Fprintf(&b, "memory:        %s\n", ram)
	fmt.Fprintf(&b, "project disk:  %s\n", space)
	fmt.Fprintf(&b, "execution:     commands %s, absolute paths %s",
		enabled(t.cfg.AllowSystemCommands), enabled(t.cfg.AllowAbsolutePaths))
	return b.String(), nil
}

func enabled(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}
