// Package billing holds the subscription model, the transition classifier and
// the prorata calculator, plus the PostgreSQL store and webhook intake for
// instant-payment charges.
//
// # Overview
//
// A Subscription carries an explicit Entitlement: a flat plan, a predefined
// tier of the complete plan, or a custom quantity under the complete plan.
// Plan changes are described by an immutable Selection and classified by the
// pure Classify function into upgrade, downgrade or no-op.
//
// # Prorata
//
// Upgrades mid-cycle are charged for the remaining days only:
//
//	r := billing.Prorata(newPrice, sub.AppliedPrice, *sub.DueDate, clock.Now())
//	fmt.Println(r.AmountDue, r.DaysRemaining)
//
// Moving off a free or trial subscription charges the full new price and
// starts a fresh 30 day cycle. Downgrades are never charged.
//
// # Usage Example
//
//	sel := billing.SelectTier("complete-10")
//	decision, err := billing.Classify(catalog, sub, sel)
//	if decision.Kind == billing.ChangeDowngrade {
//		fmt.Println(decision.Prompt)
//	}
//
// # Related Packages
//
//   - pkg/plans: Catalog of plans and tiers
//   - pkg/payment: Drives PendingCharges to settlement
package billing
