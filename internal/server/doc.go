// Package server hosts the relay behind HTTP and raw TCP listeners.
//
// The implementation is organized into specialized files for configuration,
// origin checks, routing, listeners, and HTTP handlers. WebSocket clients
// connect on /ws; a newline-delimited JSON listener is started when a TCP
// address is configured. Both feed sessions to the same relay.
package server
