// Package httputil provides the JSON request and response helpers and the
// middleware shared by the tierflow HTTP surface.
//
// Responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteFieldError(w, http.StatusBadRequest, "quantity", "must be a whole number")
//	httputil.WriteNotFound(w, "session not found")
//
// Requests:
//
//	var req ChangeRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // error response already written
//	}
//	customerID, ok := httputil.ParsePathStringOrError(w, r, "customer_id")
//
// Middleware:
//
//	router.Use(
//		httputil.RequestIDMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.LoggingMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// Remote clients decode the same error body with DecodeError.
package httputil
