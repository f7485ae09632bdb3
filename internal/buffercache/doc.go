// Package buffercache holds the in-memory copy of small static resources as
// groups of fixed-size pooled segments. Entries are addressed by a composite
// Key (owning metadata cache + backend resource key), are reference counted
// with atomics, and follow a one-way state machine:
//
//	empty --ClaimEnable--> populating --Enable--> enabled
//	                                 \--Disable--> disabled
//
// Exactly one caller wins ClaimEnable and fills the segments; every other
// caller serves from the backend until the entry is enabled. Readers take a
// Lease, duplicate the segment slice headers, and never write to them.
// Segments return to the pool once the entry has been removed and the last
// lease is released.
package buffercache
