// Package update holds the domain model shared by the CDN client and the
// download orchestrator: the packed firmware version value, the update
// descriptor, and the meta/content entry types parsed out of content
// metadata.
package update
