// Package sshctl serves the control session over SSH.
//
// Clients authenticate with the control password through the regular SSH
// password method and then open a shell. The shell runs the same command
// session as the plain TCP control port and shares its single-session slot,
// so at most one administrator is connected across both transports.
//
// Usage:
//  1. Load or create a host key with LoadOrCreateHostKey
//  2. Build a handler with NewHandler around an existing control.Control
//  3. Register the handler on a port like any other service
package sshctl
