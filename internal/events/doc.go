// Package events publishes job lifecycle events to operators and other
// services.
//
// Two transports are supported: ntfy push notifications for the milestones a
// human cares about, and a Redis pub/sub channel that receives every event as
// JSON. Both are optional; with neither configured the Bus drops events.
package events
