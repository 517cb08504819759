// Package plans provides the read-only catalog of subscription plans and the
// capacity tiers nested under the top-rank plan.
//
// # Overview
//
// A Catalog is an immutable, validated snapshot. Plans are ranked
// free < essential < complete. Only the complete plan carries tiers, each
// granting an automated-billing allowance at a price. Tiers are kept sorted by
// allowance and must be strictly increasing in allowance and non-decreasing in
// price; a catalog that violates this fails to build with a ConfigError rather
// than letting callers guess.
//
// # Sources
//
//	src := plans.NewPostgresSource(db)                  // plans + plan_tiers tables
//	src := plans.NewFileSource("/etc/tierflow/catalog.yaml")
//	cached := plans.NewCachedSource(src, 5*time.Minute)
//	go plans.WatchFile(ctx, path, cached.Invalidate, logger)
//
// # Custom quantities
//
// Allowances above the largest tier are priced as custom quantities. The
// smallest valid custom quantity is MaxTierAllowance()+1; an empty tier list
// is a configuration error.
//
// # Related Packages
//
//   - pkg/billing: Classifies transitions against a Catalog
//   - pkg/pricing: Validates custom quantities against a Catalog
package plans
