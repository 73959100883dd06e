// Package server assembles the framegate service: it loads the target
// registry, builds the probe, proxy, session, event and download
// components, and binds them to the HTTP router.
package server
