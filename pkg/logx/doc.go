// Package logx is wsched's structured logging, a thin layer over zerolog.
//
// Console output is human-readable with a short caller; the optional file
// sink writes JSON lines rotated by lumberjack. A Service can be reconfigured
// at runtime and every Logger derived from it follows along. Sampler keeps
// hot-loop trace lines from flooding the sinks.
package logx
