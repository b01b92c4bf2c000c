// Package update orchestrates a full update retrieval: resolve the latest
// descriptor, prepare the output directory, then drive the two sequential
// download phases (metadata titles, then content blobs), bridging engine
// completions into local storage and live progress.
package update
