// Package static answers GET and HEAD requests for mounted resources. Every
// request resolves through the mount's metadata cache; bodies and byte ranges
// are written through the cached handle so eligible files are served from the
// shared buffer cache after the first full read.
package static
