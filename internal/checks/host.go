package checks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/psantana5/hostscan/pkg/models"
)

const (
	cpuSampleInterval = time.Second

	cpuCriticalPercent = 90.0
	cpuWarnPercent     = 75.0

	memCriticalPercent = 90.0
	memWarnPercent     = 80.0

	diskCriticalFreePercent = 5.0
	diskWarnFreePercent     = 15.0

	uptimeWarnDays = 30

	swapCriticalPercent = 80.0
	swapWarnPercent     = 50.0

	nicMinPackets       = 1000
	nicCriticalErrRatio = 0.01
	nicWarnErrRatio     = 0.001

	procCriticalCPUShare = 50.0
	procWarnCPUShare     = 25.0

	loadCriticalPerCore = 2.0
	loadWarnPerCore     = 1.0

	procCountCritical = 800
	procCountWarn     = 400
)

// risky services that should not listen on every interface
var riskyPorts = map[uint32]string{
	21:   "ftp",
	23:   "telnet",
	445:  "smb",
	3389: "rdp",
	5900: "vnc",
}

func cpuUtilization(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	pcts, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return nil, fmt.Errorf("sample cpu: %w", err)
	}
	if len(pcts) == 0 {
		return nil, fmt.Errorf("sample cpu: no data")
	}
	return evalCPU(tier, pcts[0])
}

func evalCPU(tier models.Tier, percent float64) (*models.Finding, error) {
	spec := models.FindingSpec{
		ID:       "cpu.utilization",
		Tier:     tier,
		Category: "CPU",
		Effort:   3,
		FixID:    "cpu.investigate_load",
		Evidence: fmt.Sprintf("total=%.1f%%", percent),
	}
	switch {
	case percent >= cpuCriticalPercent:
		spec.Impact, spec.Confidence, spec.Priority = 8, 7, 1
		spec.Message = fmt.Sprintf("CPU saturated at %.0f%%", percent)
	case percent >= cpuWarnPercent:
		spec.Impact, spec.Confidence, spec.Priority = 5, 6, 2
		spec.Message = fmt.Sprintf("CPU busy at %.0f%%", percent)
	default:
		return nil, nil
	}
	return models.NewFinding(spec)
}

func memoryPressure(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	return evalMemory(tier, vm.UsedPercent, vm.Available)
}

func evalMemory(tier models.Tier, usedPercent float64, available uint64) (*models.Finding, error) {
	spec := models.FindingSpec{
		ID:       "memory.pressure",
		Tier:     tier,
		Category: "Memory",
		Effort:   2,
		FixID:    "memory.free_up",
		Evidence: fmt.Sprintf("used=%.1f%% available=%s", usedPercent, humanBytes(available)),
	}
	switch {
	case usedPercent >= memCriticalPercent:
		spec.Impact, spec.Confidence, spec.Priority = 9, 9, 1
		spec.Message = fmt.Sprintf("Memory nearly exhausted (%.0f%% used)", usedPercent)
	case usedPercent >= memWarnPercent:
		spec.Impact, spec.Confidence, spec.Priority = 6, 8, 2
		spec.Message = fmt.Sprintf("Memory pressure (%.0f%% used)", usedPercent)
	default:
		return nil, nil
	}
	return models.NewFinding(spec)
}

type volumeUsage struct {
	Path        string
	UsedPercent float64
	Free        uint64
}

func diskFreeSpace(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var vols []volumeUsage
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || u.Total == 0 {
			// removable drives without media
			continue
		}
		vols = append(vols, volumeUsage{Path: p.Mountpoint, UsedPercent: u.UsedPercent, Free: u.Free})
	}
	return evalDisk(tier, vols)
}

func evalDisk(tier models.Tier, vols []volumeUsage) (*models.Finding, error) {
	var worst *volumeUsage
	var low []string
	for i := range vols {
		v := &vols[i]
		free := 100 - v.UsedPercent
		if free < diskWarnFreePercent {
			low = append(low, fmt.Sprintf("%s %.1f%% free (%s)", v.Path, free, humanBytes(v.Free)))
		}
		if worst == nil || v.UsedPercent > worst.UsedPercent {
			worst = v
		}
	}
	if worst == nil || len(low) == 0 {
		return nil, nil
	}

	free := 100 - worst.UsedPercent
	spec := models.FindingSpec{
		ID:       "disk.free_space",
		Tier:     tier,
		Category: "Disk",
		FixID:    "disk.cleanup",
		Evidence: strings.Join(low, "; "),
	}
	if free < diskCriticalFreePercent {
		spec.Impact, spec.Confidence, spec.Effort, spec.Priority = 10, 10, 1, 1
		spec.Message = fmt.Sprintf("%s is almost full (%.1f%% free)", worst.Path, free)
	} else {
		spec.Impact, spec.Confidence, spec.Effort, spec.Priority = 6, 9, 2, 2
		spec.Message = fmt.Sprintf("%s is running low on space (%.1f%% free)", worst.Path, free)
	}
	return models.NewFinding(spec)
}

func systemUptime(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	secs, err := host.UptimeWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read uptime: %w", err)
	}
	return evalUptime(tier, time.Duration(secs)*time.Second)
}

func evalUptime(tier models.Tier, uptime time.Duration) (*models.Finding, error) {
	days := int(uptime.Hours() / 24)
	if days < uptimeWarnDays {
		return nil, nil
	}
	return models.NewFinding(models.FindingSpec{
		ID:         "system.uptime",
		Tier:       tier,
		Category:   "System",
		Impact:     3,
		Confidence: 8,
		Effort:     2,
		Priority:   3,
		FixID:      "system.reboot",
		Evidence:   fmt.Sprintf("uptime=%dd", days),
		Message:    fmt.Sprintf("No reboot in %d days; pending updates may not be applied", days),
	})
}

func memorySwap(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	sw, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page file: %w", err)
	}
	return evalSwap(tier, sw.Total, sw.UsedPercent)
}

func evalSwap(tier models.Tier, total uint64, usedPercent float64) (*models.Finding, error) {
	if total == 0 {
		return nil, nil
	}
	spec := models.FindingSpec{
		ID:       "memory.swap",
		Tier:     tier,
		Category: "Memory",
		Effort:   3,
		FixID:    "memory.pagefile",
		Evidence: fmt.Sprintf("pagefile=%s used=%.1f%%", humanBytes(total), usedPercent),
	}
	switch {
	case usedPercent >= swapCriticalPercent:
		spec.Impact, spec.Confidence, spec.Priority = 5, 7, 2
		spec.Message = fmt.Sprintf("Heavy page file use (%.0f%%)", usedPercent)
	case usedPercent >= swapWarnPercent:
		spec.Impact, spec.Confidence, spec.Priority = 3, 6, 3
		spec.Message = fmt.Sprintf("Elevated page file use (%.0f%%)", usedPercent)
	default:
		return nil, nil
	}
	return models.NewFinding(spec)
}

type nicStats struct {
	Name    string
	Packets uint64
	Errors  uint64
}

func networkInterfaceErrors(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	counters, err := net.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("read nic counters: %w", err)
	}
	stats := make([]nicStats, 0, len(counters))
	for _, c := range counters {
		stats = append(stats, nicStats{
			Name:    c.Name,
			Packets: c.PacketsSent + c.PacketsRecv,
			Errors:  c.Errin + c.Errout + c.Dropin + c.Dropout,
		})
	}
	return evalNICErrors(tier, stats)
}

func evalNICErrors(tier models.Tier, stats []nicStats) (*models.Finding, error) {
	var worstRatio float64
	var worstName string
	var bad []string
	for _, s := range stats {
		if s.Packets < nicMinPackets {
			continue
		}
		ratio := float64(s.Errors) / float64(s.Packets)
		if ratio > nicWarnErrRatio {
			bad = append(bad, fmt.Sprintf("%s %d/%d", s.Name, s.Errors, s.Packets))
		}
		if ratio > worstRatio {
			worstRatio, worstName = ratio, s.Name
		}
	}
	if len(bad) == 0 {
		return nil, nil
	}

	spec := models.FindingSpec{
		ID:       "network.interface_errors",
		Tier:     tier,
		Category: "Network",
		Effort:   4,
		FixID:    "network.check_link",
		Evidence: strings.Join(bad, "; "),
	}
	if worstRatio > nicCriticalErrRatio {
		spec.Impact, spec.Confidence, spec.Priority = 6, 7, 2
	} else {
		spec.Impact, spec.Confidence, spec.Priority = 3, 6, 3
	}
	spec.Message = fmt.Sprintf("Interface %s drops or corrupts %.2f%% of packets", worstName, worstRatio*100)
	return models.NewFinding(spec)
}

type procUsage struct {
	Name    string
	PID     int32
	Percent float64
}

func processTopCPU(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cores < 1 {
		cores = 1
	}

	usage := make([]procUsage, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pct, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			// exited or protected
			continue
		}
		name, _ := p.NameWithContext(ctx)
		usage = append(usage, procUsage{Name: name, PID: p.Pid, Percent: pct})
	}
	return evalTopCPU(tier, usage, cores)
}

func evalTopCPU(tier models.Tier, usage []procUsage, cores int) (*models.Finding, error) {
	if len(usage) == 0 {
		return nil, nil
	}
	if cores < 1 {
		cores = 1
	}
	sorted := append([]procUsage(nil), usage...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Percent > sorted[j].Percent })

	top := sorted[0]
	share := top.Percent / float64(cores)
	spec := models.FindingSpec{
		ID:       "process.top_cpu",
		Tier:     tier,
		Category: "Process",
		Effort:   2,
		FixID:    "process.review",
	}
	switch {
	case share >= procCriticalCPUShare:
		spec.Impact, spec.Confidence, spec.Priority = 6, 6, 2
	case share >= procWarnCPUShare:
		spec.Impact, spec.Confidence, spec.Priority = 3, 5, 3
	default:
		return nil, nil
	}

	n := len(sorted)
	if n > 3 {
		n = 3
	}
	ev := make([]string, 0, n)
	for _, p := range sorted[:n] {
		ev = append(ev, fmt.Sprintf("%s(%d) %.1f%%", p.Name, p.PID, p.Percent/float64(cores)))
	}
	spec.Evidence = strings.Join(ev, "; ")
	spec.Message = fmt.Sprintf("%s (pid %d) uses %.0f%% of total CPU", top.Name, top.PID, share)
	return models.NewFinding(spec)
}

func cpuLoadAverage(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read load average: %w", err)
	}
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cores < 1 {
		cores = 1
	}
	return evalLoad(tier, avg.Load1, avg.Load5, cores)
}

func evalLoad(tier models.Tier, load1, load5 float64, cores int) (*models.Finding, error) {
	if cores < 1 {
		cores = 1
	}
	perCore := load5 / float64(cores)
	spec := models.FindingSpec{
		ID:       "cpu.load_average",
		Tier:     tier,
		Category: "CPU",
		Effort:   3,
		FixID:    "cpu.investigate_load",
		Evidence: fmt.Sprintf("load1=%.2f load5=%.2f cores=%d", load1, load5, cores),
	}
	switch {
	case perCore >= loadCriticalPerCore:
		spec.Impact, spec.Confidence, spec.Priority = 6, 6, 2
		spec.Message = fmt.Sprintf("Run queue is %.1fx the core count", perCore)
	case perCore >= loadWarnPerCore:
		spec.Impact, spec.Confidence, spec.Priority = 3, 5, 3
		spec.Message = fmt.Sprintf("Run queue at %.1fx the core count", perCore)
	default:
		return nil, nil
	}
	return models.NewFinding(spec)
}

type listener struct {
	IP   string
	Port uint32
	PID  int32
}

func networkListeningPorts(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	conns, err := net.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	var ls []listener
	for _, c := range conns {
		if c.Status == "LISTEN" {
			ls = append(ls, listener{IP: c.Laddr.IP, Port: c.Laddr.Port, PID: c.Pid})
		}
	}
	return evalListeners(tier, ls)
}

func evalListeners(tier models.Tier, ls []listener) (*models.Finding, error) {
	exposed := make(map[uint32]bool)
	var ports []uint32
	for _, l := range ls {
		if _, risky := riskyPorts[l.Port]; !risky {
			continue
		}
		if l.IP != "0.0.0.0" && l.IP != "::" && l.IP != "" {
			continue
		}
		if !exposed[l.Port] {
			exposed[l.Port] = true
			ports = append(ports, l.Port)
		}
	}
	if len(ports) == 0 {
		return nil, nil
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })

	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, fmt.Sprintf("%d/%s", p, riskyPorts[p]))
	}
	return models.NewFinding(models.FindingSpec{
		ID:         "network.listening_ports",
		Tier:       tier,
		Category:   "Network",
		Impact:     5,
		Confidence: 6,
		Effort:     3,
		Priority:   2,
		FixID:      "network.restrict_listeners",
		Evidence:   strings.Join(names, ", "),
		Message:    fmt.Sprintf("%d sensitive service(s) listening on all interfaces", len(ports)),
	})
}

func processCount(ctx context.Context, tier models.Tier) (*models.Finding, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pids: %w", err)
	}
	return evalProcessCount(tier, len(pids))
}

func evalProcessCount(tier models.Tier, n int) (*models.Finding, error) {
	spec := models.FindingSpec{
		ID:       "process.count",
		Tier:     tier,
		Category: "Process",
		Effort:   4,
		FixID:    "process.review",
		Evidence: fmt.Sprintf("processes=%d", n),
	}
	switch {
	case n > procCountCritical:
		spec.Impact, spec.Confidence, spec.Priority = 5, 5, 3
	case n > procCountWarn:
		spec.Impact, spec.Confidence, spec.Priority = 3, 5, 4
	default:
		return nil, nil
	}
	spec.Message = fmt.Sprintf("%d processes running", n)
	return models.NewFinding(spec)
}

func humanBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
