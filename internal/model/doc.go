// Package model defines the core data types shared across the realtime
// engine: change events delivered by the feed, the watched-collection
// configuration, placeholder-id helpers, and connection state values.
package model
