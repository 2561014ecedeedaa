// Package proto holds the wire contract between the identity flow client and the
// stage server: stage names, request and response bodies, and the error values
// returned across package boundaries.
package proto
