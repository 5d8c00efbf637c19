// Package ranking maintains each user's strictly ordered list of ranked
// movies and drives the pairwise comparison protocol that inserts a new
// movie into that list with a binary search spread across several requests.
//
// Three pieces cooperate:
//
//   - Store persists the ranked entries. Ranks for one owner are always
//     exactly 1..N; InsertAtRank and RemoveAndCompact shift neighbours in
//     the same atomic step as the insert or delete.
//   - SessionStore holds the transient search state (candidate plus
//     low/high bounds) for an owner between requests.
//   - Engine interprets the user's answers, narrows the bounds and performs
//     the final insert once the search space is exhausted.
//
// Rank 1 is the most preferred entry. Engine serializes mutating calls per
// owner; different owners never contend.
package ranking
