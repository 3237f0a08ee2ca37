// Package http contains the HTTP transport layer: chi handlers translating
// between the versioned API contracts in pkg/contracts/api/v1 and the
// estimation services.
//
// Handlers hold a narrow service interface, a structured logger, and an
// RFC 7807 error handler. They never reach past the service layer: decoding,
// validation, and content negotiation happen here; everything else is the
// service's job.
package http
