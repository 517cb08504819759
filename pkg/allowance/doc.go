// Package allowance enforces the automated billing allowance: the number of
// passengers that may have automated billing enabled under the active
// subscription.
//
// The Reconciler handles the two places where the allowance bites. A
// downgrade that leaves more automated passengers than the new allowance
// needs the caller to pick which passengers keep automation, and reactivating
// a passenger flagged for automation is blocked once the allowance is used
// up. Every decision re-reads the subscription and the automated count.
package allowance
