package reconcile

import "github.com/prometheus/client_golang/prometheus"

// CorruptRows counts staging/mirror/local data columns that failed to parse
// as a JSON object and were silently coerced to "absent" instead of
// aborting the sync cycle. The core never registers this itself, no CLI,
// no HTTP server is part of this module, so it's inert until a caller
// registers it with their own prometheus.Registerer.
var CorruptRows = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "reconcile_corrupt_rows_total",
	Help: "Rows whose data column failed to parse as a JSON object and were treated as absent.",
})
