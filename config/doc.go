// Package config loads the framesync configuration.
//
// Configuration starts from Default, which describes a depth camera listener
// with three image streams, and is layered with JSON or YAML files and
// environment variables.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/site.json") // Overrides base
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	agg, err := aggregator.New(cfg.AggregatorConfig(), cfg.AggregatorSpecs(), deps)
//
// # Validation
//
// Every layer is checked against an embedded JSON schema (see Schema) before it
// is merged, so unknown keys and malformed values are reported with the file
// they came from. The merged result is then checked by Config.Validate, which
// covers cross-field rules such as requested streams existing in the catalog.
//
// # Layer Merging
//
// Objects merge key by key with last-wins semantics; lists are replaced:
//
//	base.yaml:
//	  streams:
//	    alignedDepthColor: {clip_max: 2000}
//	  requested_streams: [depthStream, alignedDepthColor]
//
//	site.json:
//	  {"requested_streams": ["alignedDepthColor"]}
//
//	Result: only alignedDepthColor is requested, clipped at 2000, with the
//	default topic.
//
// Durations (poll_interval, transport.timeout) accept Go duration strings such
// as "250ms" or integer nanoseconds.
//
// # Environment Variable Overrides
//
//	export FRAMESYNC_TRANSPORT_URL="nats://camera-host:4222"
//	export FRAMESYNC_REQUESTED_STREAMS="depthStream,colorStream"
//	export FRAMESYNC_TIMEOUT_SECS=30
//
// # Security
//
// The package includes security validation:
//   - File size limits (10MB max) to prevent memory exhaustion
//   - JSON depth validation (100 levels max) to prevent DoS attacks
//   - Path validation to prevent directory traversal
//   - Regular file checks (no symlinks or device files)
package config
