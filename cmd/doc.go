// Package cmd provides the command-line interface for bundlekit.
//
// This package implements the CLI commands using the Cobra framework. Every
// command reads the same layered configuration: defaults, then the
// .bundlekit.yml file, then BUNDLEKIT_* environment variables, then flags.
//
// # Available Commands
//
//   - build: Bundle the project into the output directory
//   - serve: Start the development server with live reload
//   - config: Print the resolved build plan
//   - init: Write a default .bundlekit.yml
//   - version: Show version information
//
// # Command Examples
//
//	// Production build with a stats.json report
//	bundlekit build --analyze
//
//	// Development build into a custom directory
//	bundlekit build --mode development --output build
//
//	// Development server on another port
//	bundlekit serve --port 3000 --no-open
//
//	// Inspect what development mode changes
//	bundlekit config --mode development
//
// # Configuration
//
// The configuration file is looked up in this order:
//
//  1. the --config flag
//  2. the BUNDLEKIT_CONFIG_FILE environment variable
//  3. .bundlekit.yml in the current directory
//
// A missing default file is not an error; bundlekit then runs on defaults.
package cmd
