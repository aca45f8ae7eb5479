// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"paulring/internal/analysis"
	applog "paulring/internal/log"
)

// HeaderSize is the byte length of the packet header.
const HeaderSize = 4 + 8 + 2

// MagnitudeSource is the part of analysis.FFTResultProvider the publisher reads.
type MagnitudeSource interface {
	GetMagnitudesInto(dest []float64) error
	GetFFTSize() int
}

var _ MagnitudeSource = (analysis.FFTResultProvider)(nil)

// PacketSender is the part of UDPSender the publisher writes to.
type PacketSender interface {
	Send(data []byte) error
}

// UDPPublisher periodically packs the latest output spectrum into a packet
// and sends it. It runs in a separate goroutine managed by Start and Stop.
type UDPPublisher struct {
	sender   PacketSender
	source   MagnitudeSource
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	sequenceNum uint32
	sent        atomic.Uint64
	failed      atomic.Uint64

	// Reused by buildPacket.
	magnitudes []float64
	packet     []byte
}

// NewUDPPublisher creates a publisher reading from source. A non-positive
// interval defaults to 16ms (~60Hz).
func NewUDPPublisher(interval time.Duration, sender PacketSender, source MagnitudeSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, errors.New("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, errors.New("UDPPublisher: magnitude source cannot be nil")
	}

	if interval <= 0 {
		interval = 16 * time.Millisecond
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}

	bins := source.GetFFTSize()/2 + 1
	if bins > math.MaxUint16 {
		return nil, fmt.Errorf("UDPPublisher: %d bins do not fit the packet count field", bins)
	}
	applog.Infof("UDPPublisher: Initializing (Interval: %s, FFT Bins: %d)", interval, bins)

	return &UDPPublisher{
		sender:     sender,
		source:     source,
		interval:   interval,
		magnitudes: make([]float64, bins),
		packet:     make([]byte, HeaderSize+4*bins),
	}, nil
}

// Start launches the publishing goroutine. Calling it while running is a no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDPPublisher: Start called but already running")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("UDPPublisher: Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.publish(time.Now())
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publishing goroutine and waits for it to exit. It is
// safe to call more than once.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("UDPPublisher: Stopped after %d packets (%d failed)", p.sent.Load(), p.failed.Load())
	return nil
}

// Sent returns the number of packets handed to the sender without error.
func (p *UDPPublisher) Sent() uint64 { return p.sent.Load() }

/*
UDP Packet Structure (BigEndian)

|<---- 4 Bytes ---->|<------ 8 Bytes ------>|<-- 2 Bytes -->|<----- N * 4 Bytes ----->|
+-------------------+-----------------------+---------------+-------------------------+
|  Sequence Number  |       Timestamp       |   Magnitude   |       Magnitudes        |
|      (uint32)     |  (int64, ns of epoch) |  Count (N)    |      (N * float32)      |
+-------------------+-----------------------+---------------+-------------------------+
*/

// buildPacket fills the reusable packet buffer. The returned slice is valid
// until the next call.
func (p *UDPPublisher) buildPacket(now time.Time) ([]byte, error) {
	if err := p.source.GetMagnitudesInto(p.magnitudes); err != nil {
		return nil, err
	}

	p.sequenceNum++
	buf := p.packet
	binary.BigEndian.PutUint32(buf[0:4], p.sequenceNum)
	binary.BigEndian.PutUint64(buf[4:12], uint64(now.UnixNano()))
	binary.BigEndian.PutUint16(buf[12:14], uint16(len(p.magnitudes)))
	for i, m := range p.magnitudes {
		off := HeaderSize + 4*i
		binary.BigEndian.PutUint32(buf[off:off+4], math.Float32bits(float32(m)))
	}
	return buf, nil
}

func (p *UDPPublisher) publish(now time.Time) {
	packet, err := p.buildPacket(now)
	if err != nil {
		p.failed.Add(1)
		applog.Errorf("UDPPublisher: Error getting magnitudes: %v", err)
		return
	}
	// The sender logs its own failures.
	if err := p.sender.Send(packet); err != nil {
		p.failed.Add(1)
		return
	}
	p.sent.Add(1)
	applog.Debugf("UDPPublisher: Sent packet %d (%d bytes)", p.sequenceNum, len(packet))
}

// Packet is a decoded spectrum packet.
type Packet struct {
	Sequence   uint32
	Timestamp  time.Time
	Magnitudes []float32
}

// DecodePacket parses a packet produced by the publisher.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("packet of %d bytes is shorter than the header", len(data))
	}
	n := int(binary.BigEndian.Uint16(data[12:14]))
	if len(data) != HeaderSize+4*n {
		return Packet{}, fmt.Errorf("packet of %d bytes does not hold %d magnitudes", len(data), n)
	}
	pkt := Packet{
		Sequence:   binary.BigEndian.Uint32(data[0:4]),
		Timestamp:  time.Unix(0, int64(binary.BigEndian.Uint64(data[4:12]))),
		Magnitudes: make([]float32, n),
	}
	for i := range pkt.Magnitudes {
		off := HeaderSize + 4*i
		pkt.Magnitudes[i] = math.Float32frombits(binary.BigEndian.Uint32(data[off : off+4]))
	}
	return pkt, nil
}

// Close stops the publisher.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
