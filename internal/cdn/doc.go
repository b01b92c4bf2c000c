// Package cdn talks to the update distribution network: it resolves the
// latest firmware update, fetches metadata titles and content blobs, and
// fans completed downloads into caller-supplied callbacks from a worker
// pool with bounded parallelism fixed at construction.
package cdn
