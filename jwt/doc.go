// Package jwt issues and verifies the signed session tokens handed to
// clients after a successful face match, with strict validation semantics
// suitable for low-latency authentication paths.
package jwt
