// Package api is the tierflow HTTP surface.
//
// Handlers are grouped the way they are registered:
//
//	GET    /plans?include_inactive=bool                    catalog
//	GET    /pricing/preview?quantity=N                     custom price preview
//	GET    /customers/{customer_id}/options?required=N     upgrade options
//	GET    /customers/{customer_id}/draft                  quantity draft state
//	PUT    /customers/{customer_id}/draft/quantity         type a custom quantity
//	PUT    /customers/{customer_id}/draft/tier             pick a predefined tier
//	POST   /customers/{customer_id}/draft/commit           request the drafted change
//	DELETE /customers/{customer_id}/draft                  discard the draft
//	POST   /customers/{customer_id}/changes/classify       classify without committing
//	POST   /customers/{customer_id}/changes                request a change
//	POST   /customers/{customer_id}/selections             finish a downgrade
//	POST   /customers/{customer_id}/passengers/{passenger_id}/reactivate
//	GET    /sessions/{session_id}                          payment session status
//	POST   /sessions/{session_id}/continue                 leave the confirmation screen
//	DELETE /sessions/{session_id}                          abandon a payment session
//	POST   /webhooks/charges                               payment rail notifications
//
// Errors use httputil.ErrorResponse. Validation problems are 400 with the
// offending field, an exhausted allowance is 409 with remedies and upgrade
// options, and remote rejections keep their 4xx status.
package api
