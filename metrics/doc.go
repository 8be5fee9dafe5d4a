// Package metrics exports run activity as Prometheus metrics.
//
// A Collector is an event sink: register it with the runner and it turns
// the semantic run events into counters and histograms.
//
//	c := metrics.NewCollector(func(o *metrics.Options) { o.Namespace = "orchestra" })
//	r := runner.New(func(o *runner.Options) { o.Sinks = append(o.Sinks, c) })
package metrics
