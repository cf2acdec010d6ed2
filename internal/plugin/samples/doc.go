// Package samples provides the sample plugins loaded in plugin-testing mode
// and the netprobe plugin.
package samples
