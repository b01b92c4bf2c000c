// Package selfupdate replaces the running sysup binary with the latest
// published release. It fetches a YAML manifest, compares versions, verifies
// a SHA-512 checksum and applies the new executable atomically. A marker
// file plus a process scan prevent two updates from running at once.
package selfupdate
