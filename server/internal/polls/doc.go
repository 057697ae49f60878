// Package polls is the poll engine of the hub.
//
// A poll moves from active to closed and never back. Voting requires
// status active, the IsActive flag and an unexpired ExpiresAt. TotalVotes is
// never incremented on its own: every mutation recomputes it from the option
// voter sets with types.Poll.Recount before the document is written.
//
// Mutations of one poll are serialized with a per-poll lock held across the
// whole read-modify-write, including the commit callback the hub uses to
// broadcast the result. Different polls are mutated concurrently.
package polls
