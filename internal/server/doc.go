// Package server implements a multi-port, multi-service TCP server.
//
// Features:
//   - Any number of services, each bound to its own port and served by a Handler
//   - One accept goroutine per port, stoppable at runtime without touching admitted connections
//   - One worker goroutine per connection, with panic recovery and guaranteed deregistration
//   - A global connection limit enforced at admission time
//   - A swappable, timestamped event log
//
// Usage:
//  1. Create a Server with New, giving it a log writer and a connection limit
//  2. Register handlers with AddService; remove them with RemoveService
//  3. Adjust the limit with SetMaxConnections and inspect state with Status or DisplayStatus
//
// All registry state lives behind a single mutex; handlers run outside it.
package server
