// Package internal contains the core implementation packages for bundlekit.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules.
//
// # Package Organization
//
// The packages follow the build pipeline, from configuration to served
// output:
//
//   - config: Configuration loading, validation and the mode-specific Plan
//   - classify: Extension routing table mapping files to transform chains
//   - graph: Module graph resolution on top of the esbuild engine
//   - transform: Per-module transform chains with a content-keyed cache
//   - naming: Content hashes and filename templates
//   - chunk: Chunk groups and the cache-group splitter
//   - emit: Chunk rendering, the HTML shell and the manifest
//   - build: The bundler tying the stages together
//   - watcher: File system monitoring with debouncing
//   - server: Development server with live reload
//   - metrics: Prometheus build and server metrics
//   - errors: Typed errors, diagnostics collection and the error overlay
//   - logging: Structured logging on top of log/slog
//   - validation: Path, host and URL checks for user input
//   - version: Build version information
//
// # Build Flow
//
// A build runs config.Plan -> graph.Builder -> transform.Pipeline ->
// chunk.Split -> emit.Emitter. The build.Bundler owns one instance of each
// stage and keeps the transform cache and the engine's incremental context
// alive between builds, so dev server rebuilds only redo changed modules.
package internal
