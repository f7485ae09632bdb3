// Package server hosts the Fiber HTTP service, request middleware chain, and
// the mount registry that maps URL prefixes onto cached resource backends.
// Bootstrap wires each configured mount to a resource manager (local
// directory or upstream origin) wrapped in its own metadata cache, with every
// mount sharing one buffer data cache. Keep exports narrow and accept explicit
// dependencies so tests can assemble apps from in-memory backends.
package server
