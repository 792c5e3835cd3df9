// Package client is the remote boundary of the sync engine.
//
// # Overview
//
// Two collaborators live here:
//  1. RecordsAPI, the authoritative record store. GRPCRecords talks to it
//     over gRPC using google.protobuf.Struct messages, injects the access
//     token through a unary interceptor and maps status codes to sentinel
//     errors.
//  2. BinaryStore, the remote object storage for record images.
//     S3BinaryStore uploads objects, deletes them and issues presigned GET
//     URLs against any S3-compatible endpoint.
//
// # Error Handling
//
// Callers match failures with errors.Is against ErrUnavailable,
// ErrUnauthorized, ErrPermissionDenied, ErrValidation, ErrNotFound,
// ErrAlreadyExists and ErrObjectNotFound. Anything else is wrapped as-is.
//
// Concurrency & Contexts
//
// Both implementations are safe for concurrent use. Every call accepts a
// context.Context and honors cancellation.
package client
