// Package cnmt decodes packed content-metadata blobs: the system-update meta
// that lists the metadata titles of a firmware release, and per-title metas
// that list the content blobs to fetch. Callers treat the results as opaque
// parsed structures; nothing here touches the network or the filesystem.
package cnmt
