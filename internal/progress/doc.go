// Package progress renders a "count / total" counter at a fixed terminal
// position. Increments are lock-free and authoritative; redraws are coalesced
// so at most one is ever in flight, keeping the terminal off the hot path of
// concurrent download workers.
package progress
