// Package backend is the JSON client for the remote billing platform. One
// Client serves as the subscription mutation API, the subscription reader,
// the charge issuer, the custom price preview and the passenger store.
//
// Non-2xx responses become *billing.RemoteError carrying the status and the
// server's message. Transport failures are wrapped in a RemoteError too, so
// callers can ask billing.IsRetryable about either. The client never retries
// on its own.
package backend
