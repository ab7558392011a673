// Package connection owns the realtime feed connection: a websocket client
// with command/response correlation, and the Supervisor that keeps the
// connection alive (or visibly broken) through backoff, health checks, and
// app-lifecycle transitions.
package connection
