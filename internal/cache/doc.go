// Package cache implements the two-tier resource cache that sits between the
// HTTP handlers and a resource.Manager backend. MetadataCache memoizes path
// lookups as either a resolved Handle or a negative marker, revalidating
// them against the backend's live last-modified time on a max-age deadline.
// Handle serves a resource body either straight from the backend or from the
// shared buffercache, populating it through a tee on first access so that
// exactly one request fills an entry while concurrent requests keep
// streaming from the backend. Byte ranges served from cache are cut out of
// duplicated segment views by TrimSegments. Watch connects backend change
// notifications to per-path invalidation.
package cache
