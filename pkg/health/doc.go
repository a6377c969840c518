/*
Package health probes the upstream services an eventsync client depends on.

Two checkers are provided:

  - HTTPChecker requests a URL, typically the snapshot service, and accepts
    2xx and 3xx responses by default
  - TCPChecker dials an address; NewBusChecker derives it from the bus URL

A Monitor runs each registered checker on an interval and reports the
result through metrics.UpdateComponent under the name it was added with,
so upstream health shows up on /health next to the client's own
components. An upstream is marked unhealthy only after Config.Retries
consecutive failures and healthy again after one success.

	monitor := health.NewMonitor(health.DefaultConfig())
	monitor.Add(metrics.ComponentSnapshots, health.NewHTTPChecker(base+"/health"))
	monitor.Start(ctx)
	defer monitor.Stop()

Probes are informational: neither upstream is part of readiness, and a
failing probe never changes transport or mirror state.
*/
package health
