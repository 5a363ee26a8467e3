// Package timeouts defines shared timeout constants used across tablemap processes.
// Centralizing these values prevents drift between the server, probe, and tests.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing the health endpoint.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful shutdown.
const Shutdown = 5 * time.Second

// Command caps a single command's execution, independent of the socket.
const Command = 10 * time.Second

// PeerWrite caps a single websocket frame write to a slow peer.
const PeerWrite = 5 * time.Second
