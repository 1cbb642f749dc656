package tool

import "github.com/zen-systems/sentinel/pkg/schema"

// Defaults returns the built-in tool catalogue.
func Defaults() []Descriptor {
	return []Descriptor{
		{
			ID:          "disk_info",
			Name:        "Disk Information",
			Description: "Show disk usage information",
			Command:     "df -h {verbose?-a} {path}",
			Schema: schema.Schema{
				"path":    {Type: schema.TypeString, Pattern: `^/[A-Za-z0-9_./-]*$`},
				"verbose": {Type: schema.TypeBoolean, Default: false},
			},
			Tags:           []string{"storage", "diagnostic"},
			Examples:       []string{"!@ call disk_info", "!@ call disk_info path=/var"},
			TimeoutSeconds: 5,
		},
		{
			ID:             "memory_info",
			Name:           "Memory Information",
			Description:    "Show memory usage statistics",
			Command:        "free -h",
			Tags:           []string{"memory", "diagnostic"},
			Examples:       []string{"!@ call memory_info"},
			TimeoutSeconds: 5,
		},
		{
			ID:          "process_list",
			Name:        "Process List",
			Description: "List running processes by resource usage",
			Command:     "ps aux --sort=-%{sort} | head -n {limit}",
			Schema: schema.Schema{
				"sort":  {Type: schema.TypeString, Enum: []string{"cpu", "mem"}, Default: "cpu"},
				"limit": {Type: schema.TypeInteger, Min: schema.Ptr(1.0), Max: schema.Ptr(200.0), Default: 20},
			},
			Tags:           []string{"process", "diagnostic"},
			Examples:       []string{"!@ call process_list", "!@ call process_list sort=mem limit=5"},
			TimeoutSeconds: 5,
		},
		{
			ID:             "network_status",
			Name:           "Network Status",
			Description:    "Show network interface status",
			Command:        "ip addr show",
			Tags:           []string{"network", "diagnostic"},
			Examples:       []string{"!@ call network_status"},
			TimeoutSeconds: 5,
		},
		{
			ID:          "service_status",
			Name:        "Service Status",
			Description: "Check status of a system service",
			Command:     "service {name} status",
			Schema: schema.Schema{
				"name": {Type: schema.TypeString, Required: true, MinLength: schema.Ptr(1), Pattern: `^[A-Za-z0-9_.@-]+$`},
			},
			Tags:           []string{"service", "diagnostic"},
			Examples:       []string{`!@ call service_status {"name": "sshd"}`},
			TimeoutSeconds: 5,
		},
		{
			ID:                   "kill_process",
			Name:                 "Kill Process",
			Description:          "Terminate a process by PID",
			Command:              "kill {force?-9} {pid}",
			RequiresPrivilege:    true,
			RequiresConfirmation: true,
			Schema: schema.Schema{
				"pid":   {Type: schema.TypeInteger, Required: true, Min: schema.Ptr(1.0)},
				"force": {Type: schema.TypeBoolean, Default: false},
			},
			Tags:           []string{"process", "dangerous"},
			Examples:       []string{`!@ call kill_process {"pid": 1234}`, `!@ call kill_process {"pid": 5678, "force": true}`},
			TimeoutSeconds: 5,
		},
		{
			ID:                   "clean_cache",
			Name:                 "Clean Page Cache",
			Description:          "Flush dirty pages and drop the kernel page cache",
			Command:              "sync && echo 1 > /proc/sys/vm/drop_caches",
			RequiresPrivilege:    true,
			RequiresConfirmation: true,
			Tags:                 []string{"memory", "recovery"},
			Examples:             []string{"!@ call clean_cache"},
			TimeoutSeconds:       30,
		},
		{
			ID:             "system_report",
			Name:           "System Report",
			Description:    "Sample load and virtual memory statistics in the background",
			Command:        "uptime && vmstat 1 {samples}",
			Schema:         schema.Schema{"samples": {Type: schema.TypeInteger, Min: schema.Ptr(1.0), Max: schema.Ptr(60.0), Default: 5}},
			Tags:           []string{"diagnostic", "performance"},
			Examples:       []string{"!@ call system_report samples=10"},
			TimeoutSeconds: 90,
			Mode:           ModeBackground,
		},
		{
			ID:             "log_tail",
			Name:           "Recent Logs",
			Description:    "Show recent system journal entries without network access",
			Command:        "journalctl -n {lines} --no-pager",
			Schema:         schema.Schema{"lines": {Type: schema.TypeInteger, Min: schema.Ptr(1.0), Max: schema.Ptr(500.0), Default: 50}},
			Tags:           []string{"logs", "diagnostic"},
			Examples:       []string{"!@ call log_tail lines=100"},
			TimeoutSeconds: 10,
			Mode:           ModeSandboxed,
		},
	}
}
