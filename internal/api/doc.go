// Package api exposes the demo delivery pipeline over HTTP: the relay
// page that hosts an embedded demo, the same-origin proxied document,
// the probe and event inspection endpoints, signed downloads, and the
// WebSocket session channel that drives the fallback state machine.
package api
