// Package lane implements the in-process priority queue set: four
// independent FIFO lanes (critical, high, normal, low) with strict
// dispatch precedence and O(1) id-keyed removal for cancellation.
//
// Lanes hold only dispatchable work. Jobs waiting out a retry delay or a
// future RunAt live in the retry scheduler and enter their lane when due,
// always at the tail.
//
// An optional [Throttle] paces dequeues per lane with token-bucket rate
// limits and concurrency caps. Throttling skips a lane for the current
// scan; it never reorders work within a lane.
package lane
