// Package errors provides the classified error primitives used across meterd.
//
// Every failure at the command boundary is one of four kinds:
//   - CategoryConfig: required configuration missing or unparseable
//   - CategoryAddress: a destination does not split into "<namespace>/<name>"
//   - CategoryCapability: a capability call reported failure
//   - CategoryUnknownVerb: nobody handles the inbound verb
//
// None of them is process-fatal. The remaining categories cover transport,
// journal and daemon plumbing.
//
// Example usage:
//
//	err := errors.AddressError("component must be <namespace>/<name>").
//		WithContext("component", raw).
//		Build()
package errors
