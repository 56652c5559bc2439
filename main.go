// Package main hosts the listing crawler entrypoint.
//
// Architecture overview:
//   - Discovery: for each category a listing page is fetched through the proxy
//     (unrendered) and every business link on it becomes a bare record.
//   - Enrichment: each record's detail page is fetched rendered and parsed;
//     records whose fetch keeps failing are dropped.
//   - Retry: every fetch gets up to three attempts with a fixed delay, and the
//     first failure escalates that call to the premium proxy tier.
//   - Dispatch: both phases fan out over a bounded worker pool; one task's
//     failure or panic never affects its siblings.
//   - Sinks: surviving records go to CSV, Postgres, GCS, Pub/Sub or memory as
//     configured.
//   - Serve mode: internal/api accepts jobs over HTTP, queues them in memory,
//     and job workers run them through the same pipeline.
package main

import (
	"github.com/JakeFAU/listing-crawler/cmd"
)

func main() {
	cmd.Execute()
}
