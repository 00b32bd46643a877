// Package port checks which local UDP ports can be bound.
//
// The server command uses it before serving a port range, so that every
// busy port is reported in one error instead of failing on the first bind.
package port
