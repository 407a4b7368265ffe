// Package tonetuner rewrites text into a chosen tone through an LLM while
// keeping usage inside per-user rate limits, a daily conversion allowance
// and a cost budget.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/kadirpekel/tonetuner/cmd/tonetuner@latest
//
// Convert without any config. Counters are kept in ~/.tonetuner/tonetuner.db
// and the offline simulator is used unless OPENAI_API_KEY or GEMINI_API_KEY
// is exported:
//
//	tonetuner convert formal "hey, can't make it today"
//	tonetuner status
//
// Serve the HTTP API with a config file:
//
//	rate_limit:
//	  requests: {minute: 10, hour: 100, day: 1000}
//	cost:
//	  daily_limit: 50
//	  monthly_limit: 500
//	store:
//	  backend: sql
//	  database:
//	    driver: postgres
//	    host: db.internal
//	    database: tonetuner
//
//	tonetuner serve --config tonetuner.yaml
//
// # Packages
//
//   - pkg/ratelimit: sliding window limits on requests and tokens
//   - pkg/cost: daily and monthly token cost ledger with alerts
//   - pkg/gate: daily conversion allowance
//   - pkg/converter: orchestrates one conversion end to end
//   - pkg/store: persistent counter store (memory, SQL, Consul, etcd)
//   - pkg/app: wires the components from a config
//   - pkg/server: HTTP API
package tonetuner
