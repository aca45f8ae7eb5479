// SPDX-License-Identifier: MIT
package transport

// Transport defines a generic interface for sending status messages to
// clients. Implementations must be safe for concurrent use and must not
// block the caller on a slow client.
type Transport interface {
	Send(data any) error
	Close() error
}
