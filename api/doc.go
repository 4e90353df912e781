// Package api
// Author: momentics <momentics@gmail.com>
//
// Public contracts of the asock runtime: socket event types, the
// consumer-facing handler and callback interfaces, the normalized
// error code space and its description table, and the optional trace
// hook. The package is dependency-free except for platform errno
// bindings; implementations live in the other packages.
package api
