// Package config loads runtime configuration and builds the components a
// Runner is assembled from.
//
// Values are layered: defaults, then an optional YAML file, then ORCHESTRA_*
// environment variables.
//
//	cfg, err := config.Load("orchestra.yaml")
//	if err != nil { ... }
//	comp, cleanup, err := cfg.NewRunner(ctx)
//	if err != nil { ... }
//	defer cleanup()
//	res, err := comp.Runner.Run(ctx, a, "hello")
package config
