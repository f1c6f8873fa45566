package config

import (
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EffectiveYAML renders the merged settings of v (defaults, file, env, flags)
func EffectiveYAML(v *viper.Viper) ([]byte, error) {
	return yaml.Marshal(readable(v.AllSettings()))
}

// readable converts durations to their string form so the output can be fed back in
func readable(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, val := range in {
		switch t := val.(type) {
		case map[string]interface{}:
			out[k] = readable(t)
		case time.Duration:
			out[k] = t.String()
		default:
			out[k] = val
		}
	}
	return out
}

// ExampleYAML is an annotated configuration file with every default spelled out
const ExampleYAML = `# hostscan configuration
# Location: $HOME/.hostscan/config.yaml (override with --config)
# Every key can also be set from the environment, e.g. HOSTSCAN_SCAN_TIER=deep

scan:
  tier: standard            # quick | standard | deep
  sequential: false         # run checks one at a time
  per_check_timeout: 2m     # a check running longer is abandoned as timed_out
  concurrency:
    quick: 2
    standard: 4
    deep: 6

query:
  timeout: 10s              # event log query deadline
  min_timeout: 5s
  max_timeout: 5m
  narrow_window: 168h       # empty results are retried over the last 7 days
  retries: 1                # retries for transient errors (RPC unavailable, ...)
  retry_backoff: 250ms

budgets:
  quick: 30s
  standard: 45s
  deep: 75s
  warn_ratio: 0.8           # warning once elapsed passes 80% of the budget

# Tier membership. Each tier lists only the checks it adds.
checks:
  quick: [cpu.utilization, memory.pressure, disk.free_space, system.uptime]
  standard: [memory.swap, network.interface_errors, process.top_cpu, eventlog.system_errors]
  deep: [cpu.load_average, network.listening_ports, process.count, eventlog.application_crashes, eventlog.security_audit]

log:
  level: info               # debug | info | warn | error
  json: false
  file: false               # also write to %ProgramData%\hostscan\logs
  max_size_mb: 50

report:
  format: table             # html | json | yaml | table
  out: ""                   # write the report here instead of stdout
  metrics_file: ""          # Prometheus textfile output
  top: 10

serve:
  listen: ":9182"
  rate_limit_rps: 1
  rate_limit_burst: 5
  shutdown_timeout: 30s
  # bcrypt hashes from "hostscan keygen"; callers send "Authorization: Bearer <key>"
  # api_key_hashes: ["$2a$10$..."]
  tls_cert: ""              # both set: serve HTTPS ("hostscan certgen" writes a self-signed pair)
  tls_key: ""
  tls_client_ca: ""         # set: require client certificates signed by this CA

tracing:
  enabled: false
  service_name: hostscan
  service_version: dev
  otlp_endpoint: localhost:4318
`
