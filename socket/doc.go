// Package socket
// Author: momentics <momentics@gmail.com>
//
// Portable non-blocking TCP sockets with asynchronous event delivery.
// A Socket is owned by the consumer's event-loop goroutine; a
// dedicated worker goroutine drives name resolution, the sequential
// connect loop, and the platform readiness primitive, and posts
// lifecycle events (hostaddress, connection, read, write, close) into
// the dispatcher the consumer drains.
package socket
