// Package config loads the service configuration.
//
// Configuration comes from a YAML file, is completed with defaults,
// overridden from SCANQUOTA_* environment variables and validated, in that
// order. Durations accept day units ("7d", "1d12h").
//
// Example:
//
//	redis:
//	  addrs: ["localhost:6379"]
//	  key_prefix: scanquota
//	cache:
//	  default_ttl: 7d
//	quota:
//	  default_tier: free
//	  periods:
//	    ai-question: [daily, monthly]
//	    scan: [monthly]
//	  tiers:
//	    free:
//	      ai-question: {daily: 3, monthly: 60}
//	      scan: {monthly: 25}
//	    premium:
//	      ai-question: {daily: -1, monthly: -1}
//	      scan: {monthly: -1}
//	ratelimit:
//	  default: {limit: 100, window: 60s}
//
// A limit of -1 means unlimited.
package config
