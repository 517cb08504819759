// Package pricing turns free-text custom allowance input into a priced
// preview.
//
// An Orchestrator holds one customer's draft: either a predefined tier or a
// custom quantity, never both. Valid quantities are previewed through the
// PreviewService after the input has been stable for the debounce window.
// While a fetch is scheduled or in flight the preview reads pending. Invalid
// input clears the preview at once. Each fetch is tagged with the quantity it
// was issued for and a sequence number, and a result is applied only if it is
// for the current quantity and not older than the last applied result.
//
//	o := pricing.NewOrchestrator(catalog, service, pricing.DefaultConfig(), clock, logger, metrics)
//	defer o.Close()
//	if err := o.SetInput("25"); err != nil {
//		// field-level validation message
//	}
//	sel, err := o.Selection() // once Preview().Status == pricing.PreviewReady
package pricing
