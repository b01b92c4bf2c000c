// Package files persists downloaded update parts under the run's output
// directory. Paths are a pure function of (content identifier, meta flag):
// content blobs land at <root>/<id>.nca and metadata at <root>/<id>.cnmt.nca,
// so the same identifier never collides across the two kinds. Downstream
// tooling relies on the .cnmt.nca suffix to locate metadata files.
package files
