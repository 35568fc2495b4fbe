// Package report serves the reporting API the dashboard polls.
//
// Endpoints:
//
//	GET    /api/executions              live jobs, oldest first
//	POST   /api/executions              start a job {taxpayerId, from, to}
//	GET    /api/executions/{id}         one job
//	POST   /api/executions/{id}/ack     consume a finished job (409 while running)
//	GET    /api/summary                 totals across live jobs
//	GET    /api/archive                 archived jobs (?taxpayerId=&limit=)
//	GET    /api/cache                   per-namespace cache statistics
//	DELETE /api/cache                   clear every namespace
//	DELETE /api/cache/{namespace}       clear one namespace
//	GET    /metrics                     Prometheus metrics
//	GET    /health                      liveness
//
// Errors are returned as {"error": "..."}.
package report
