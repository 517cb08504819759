// Package planchange runs a subscription change from request to settlement.
//
// A request is classified against a fresh read of the catalog and the
// active subscription. No-ops return immediately, downgrades wait for the
// customer to confirm, and a downgrade that leaves more automated passengers
// than the new allowance asks for a passenger selection first. Committed
// changes either apply at once or come back with a charge, which is handed
// to a payment session. The automated passenger count is checked against the
// contracted allowance after every commit.
package planchange
