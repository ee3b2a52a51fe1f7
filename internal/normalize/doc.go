// Package normalize converts raw adapter listings into canonical products:
// SKU derivation, locale-tolerant price parsing, margin pricing and image
// cleanup. Everything here is pure and safe for concurrent use.
package normalize
