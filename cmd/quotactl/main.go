// quotactl operates the scan-quota core: it serves the health and metrics
// endpoints and performs administrative actions against the shared store.
//
// Usage:
//
//	# Serve /health, /ready and /metrics
//	quotactl serve --config /etc/scanquota/config.yaml
//
//	# Show a user's quota windows and rate limiter state
//	quotactl status --user u1 --tier free
//
//	# Clear a user's counters for an action
//	quotactl reset --user u1 --action scan
//
//	# Give back five scans for the current month
//	quotactl bonus --user u1 --action scan --amount 5
//
//	# Drop cached analyses of a category
//	quotactl invalidate --category food
//
//	# List cached analyses of a category with age and hits
//	quotactl inspect --category food
//
//	# Check a configuration file
//	quotactl validate --config config.yaml
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
