// Package main is the entry point for the framegate server.
//
// Framegate embeds third-party websites as live demos. For each demo it
// probes the target's framing policy, serves a same-origin rewritten
// copy when direct embedding is blocked, and falls back to static
// content when the proxy fails too. A WebSocket session channel drives
// the fallback decisions for every page view.
//
// The server provides:
//   - Relay pages hosting embedded demos
//   - Same-origin proxied demo documents
//   - Frame-policy probe and event inspection endpoints
//   - HMAC-signed expiring download links
//   - Prometheus metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	./server -targets configs/targets.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
