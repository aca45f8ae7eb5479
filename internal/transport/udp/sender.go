// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	applog "paulring/internal/log"
)

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("udp: sender closed")

// UDPSender writes spectrum packets to one connected UDP peer.
type UDPSender struct {
	mu     sync.Mutex // Guards conn; nil once closed.
	conn   *net.UDPConn
	target *net.UDPAddr
	bytes  atomic.Uint64
}

// NewUDPSender connects to target, given as "host:port".
func NewUDPSender(target string) (*UDPSender, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %q: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s: %w", addr, err)
	}
	applog.Infof("UDPSender: Sending to %s", addr)
	return &UDPSender{conn: conn, target: addr}, nil
}

// Target returns the resolved destination.
func (s *UDPSender) Target() *net.UDPAddr { return s.target }

// BytesSent returns the payload bytes written so far.
func (s *UDPSender) BytesSent() uint64 { return s.bytes.Load() }

// Send writes data as a single datagram.
func (s *UDPSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrSenderClosed
	}
	n, err := s.conn.Write(data)
	s.bytes.Add(uint64(n))
	if err != nil {
		return fmt.Errorf("udp: write to %s: %w", s.target, err)
	}
	return nil
}

// Close releases the socket. Further calls are no-ops.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	applog.Infof("UDPSender: Closing socket to %s", s.target)
	return conn.Close()
}

var _ PacketSender = (*UDPSender)(nil)
