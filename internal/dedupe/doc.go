// Package dedupe provides the first-seen cache behind duplicate suppression.
//
// An id recorded at t is reported as a duplicate by RecordIfNew until a Sweep
// with now-t > window removes it. Sweeps are driven by the owner (the channel
// runs one every timeout period), so ids become eligible for reuse at some
// point after t+window rather than exactly at it.
package dedupe
