package banner

import "fmt"

const banner = `
 ___  ___  _    ___   ___   ___  _    ___ ___
| _ \| __|/ | || _ ) | __|| __|/ | || __| _ \
|   /| _| | || || _ \ | _| | _| | || _| |   /
|_|_\|___||_|_||___/ |_|  |___||_|_||___|_|_\
`

// Print shows the startup banner for the recycler daemon together with the
// pool tuning values it is given (as loaded from config; 0 marks a knob left
// at the recycler default) and the net/http address it is about to listen on.
func Print(addr string, cfgSources string, version string, tuning map[string]any) {
	fmt.Print(banner)
	fmt.Println("== Recycler daemon ============================================")
	fmt.Printf("Listen:        %s\n", addr)
	if version != "" {
		fmt.Printf("Version:       %s\n", version)
	}
	if cfgSources != "" {
		fmt.Printf("Config source: %s\n", cfgSources)
	}

	fmt.Println("\n== Pool tuning =================================================")
	for _, k := range []string{
		"max_capacity_per_thread", "max_shared_capacity_factor",
		"max_delayed_queues_per_thread", "link_capacity", "ratio", "delayed_queue_ratio",
	} {
		if v, ok := tuning[k]; ok {
			fmt.Printf("%-30s %v\n", k+":", v)
		}
	}

	fmt.Println("\n== Endpoints ===================================================")
	fmt.Println("POST /echo       - pooled-buffer echo; drives Get/Recycle per request")
	fmt.Println("GET  /debug/pool - pool hit/miss/recycle counters as JSON")
	fmt.Println("GET  /metrics    - Prometheus exposition")
	fmt.Println("GET  /healthz    - liveness probe")
}
