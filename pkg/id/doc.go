// Package id generates work-request identifiers.
//
// # Format
//
// An ID is the Unix time of creation rendered as a fixed-point decimal with
// six fractional digits, e.g. "1700000000.123456". The integer part is
// zero-padded to ten digits, so byte-wise comparison of two IDs matches
// chronological order, and every ID is a legal file name.
//
// # Monotonicity
//
// The Generator ensures per-process monotonicity:
//   - If the clock has not advanced since the last ID, or has regressed, the
//     generator issues the last value plus one microsecond.
//   - A caller retrying after a collision therefore always receives a fresh
//     ID without sleeping.
//
// Usage
//
//	g := id.NewGenerator()
//	reqID := g.Next()          // "1700000000.123456"
//	at, _ := id.Parse(reqID)   // time.Time
package id
