// Package resource defines the backend contract consumed by the cache: a
// Manager resolves a path into a Resource (or nil when nothing exists there),
// a Resource streams its bytes and reports live metadata, and an optional
// Watchable manager pushes change batches to registered listeners. Two
// backends are provided: FileManager serves a directory tree through afero
// (with fsnotify-driven change events), HTTPManager resolves paths against an
// upstream origin using HEAD for metadata and GET/Range for content.
package resource
