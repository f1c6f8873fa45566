package checks

import (
	"time"
)

// DefaultMembership is the built-in tier layout
func DefaultMembership() Membership {
	return Membership{
		Quick: []string{
			"cpu.utilization",
			"memory.pressure",
			"disk.free_space",
			"system.uptime",
		},
		Standard: []string{
			"memory.swap",
			"network.interface_errors",
			"process.top_cpu",
			"eventlog.system_errors",
		},
		Deep: []string{
			"cpu.load_average",
			"network.listening_ports",
			"process.count",
			"eventlog.application_crashes",
			"eventlog.security_audit",
		},
	}
}

// Merge fills empty tiers of m from fallback
func (m Membership) Merge(fallback Membership) Membership {
	if len(m.Quick) == 0 {
		m.Quick = fallback.Quick
	}
	if len(m.Standard) == 0 {
		m.Standard = fallback.Standard
	}
	if len(m.Deep) == 0 {
		m.Deep = fallback.Deep
	}
	return m
}

// Builtin returns the host checks. Event log checks go through events with queryTimeout.
func Builtin(events EventQuerier, queryTimeout time.Duration) []Check {
	ev := &eventChecks{events: events, timeout: queryTimeout, now: time.Now}

	return []Check{
		{ID: "cpu.utilization", Category: "CPU", Description: "Total CPU utilization over a one second sample", Run: cpuUtilization},
		{ID: "memory.pressure", Category: "Memory", Description: "Physical memory in use", Run: memoryPressure},
		{ID: "disk.free_space", Category: "Disk", Description: "Free space on every mounted volume", Run: diskFreeSpace},
		{ID: "system.uptime", Category: "System", Description: "Time since last reboot", Run: systemUptime},
		{ID: "memory.swap", Category: "Memory", Description: "Page file utilization", Run: memorySwap},
		{ID: "network.interface_errors", Category: "Network", Description: "Error and drop ratio per network interface", Run: networkInterfaceErrors},
		{ID: "process.top_cpu", Category: "Process", Description: "Processes with the highest CPU share", Run: processTopCPU},
		{ID: "eventlog.system_errors", Category: "EventLog", Description: "Critical and error events in the System log (24h)", Run: ev.systemErrors},
		{ID: "cpu.load_average", Category: "CPU", Description: "Processor queue length relative to core count", Run: cpuLoadAverage},
		{ID: "network.listening_ports", Category: "Network", Description: "Sensitive services listening on all interfaces", Run: networkListeningPorts},
		{ID: "process.count", Category: "Process", Description: "Number of running processes", Run: processCount},
		{ID: "eventlog.application_crashes", Category: "EventLog", Description: "Application crash and hang events (7d)", Run: ev.applicationCrashes},
		{ID: "eventlog.security_audit", Category: "Security", Description: "Failed logon attempts in the Security log (24h)", Run: ev.securityAudit},
	}
}
