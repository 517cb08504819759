// Package payment drives an instant-payment charge from issuance to
// settlement.
//
// A Session issues (or attaches) a PendingCharge, exposes its payment code
// with a countdown, and waits for confirmation from two producers: a push
// event keyed by the charge id and a periodic poll of the subscription. The
// first signal wins through a compare-and-swap; the rest are counted as
// duplicates. After a settle delay the session re-reads the subscription with
// bounded backoff until it reflects the purchased entitlement, then confirms.
//
// Session states follow a fixed transition table:
//
//	Idle -> Issuing -> AwaitingPayment -> Verifying -> Confirmed
//	                 \-> IssueFailed     \-> Expired
//
// Any non-terminal state may move to Closed when the hosting flow goes away.
package payment
