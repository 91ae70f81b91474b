// Package routes registers the `/-/` control and diagnostics endpoints:
// worker registration state, control-channel messages, version updates,
// client detach, cache inventory and the contact relay.
package routes
