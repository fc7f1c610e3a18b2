// Package client contains the sender's transports to the receiver.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic contract (see Client) for delivering one chunk,
//     fetching the receiver's public key and probing its health.
//  2. An HTTP implementation (see HTTPClient) that speaks the receiver's
//     /upload API, optionally through a SOCKS5 proxy and optionally with
//     short-lived signed bearer tokens instead of the raw API key.
//  3. A gRPC implementation (see GRPCClient) that pushes chunks to the
//     receiver's relay endpoint and injects the credential via an
//     interceptor.
//
// # Error Handling
//
// Failures are mapped onto the sentinels in internal/common so callers can
// decide on retries with errors.Is: common.ErrAuthentication (never retried),
// common.ErrNetwork (transient), common.ErrPathSecurity and common.ErrCrypto
// (rejected by the receiver, never retried).
package client
