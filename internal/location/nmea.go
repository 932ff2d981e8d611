package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"go.bug.st/serial"

	"github.com/SpasticCat/findmycar/internal/geo"
)

// ErrNoFix means no position has been observed yet.
var ErrNoFix = errors.New("location: no fix observed yet")

// hdopBaseM converts HDOP to a rough accuracy radius in meters.
const hdopBaseM = 5.0

// NMEAProvider reads NMEA 0183 sentences from a UART GPS/compass.
// Compatible with u-blox NEO-M8N and any standard NMEA source. RMC supplies
// position, GGA supplies an HDOP-derived accuracy estimate, HDT supplies
// true heading and VTG magnetic track.
type NMEAProvider struct {
	portPath string
	baudRate int
	port     serial.Port

	mu      sync.Mutex
	started bool
	lastFix *Fix
	hdop    float64
	posSubs map[chan Fix]struct{}
	hdgSubs map[chan Heading]struct{}
}

// NMEAConfig holds configuration for the NMEA provider.
type NMEAConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// NewNMEA creates a new NMEA location provider.
func NewNMEA(cfg NMEAConfig) *NMEAProvider {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // Standard NMEA default
	}
	return &NMEAProvider{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		hdop:     -1,
		posSubs:  map[chan Fix]struct{}{},
		hdgSubs:  map[chan Heading]struct{}{},
	}
}

func (n *NMEAProvider) Name() string { return "NMEA GPS" }

// RequestPermission opens the serial port and starts the read loop. A port
// that cannot be opened is the serial equivalent of a denied permission.
func (n *NMEAProvider) RequestPermission(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: n.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(n.portPath, mode)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrPermissionDenied, n.portPath, err)
	}
	port.SetReadTimeout(200 * time.Millisecond)
	n.port = port
	n.started = true
	log.Printf("[location] nmea connected to %s at %d baud", n.portPath, n.baudRate)

	go n.readLoop(port)
	return nil
}

func (n *NMEAProvider) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = false
	if n.port != nil {
		return n.port.Close()
	}
	return nil
}

func (n *NMEAProvider) CurrentFix(_ context.Context) (Fix, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lastFix == nil {
		return Fix{}, ErrNoFix
	}
	return *n.lastFix, nil
}

func (n *NMEAProvider) WatchPosition(ctx context.Context, cfg WatchConfig) (<-chan Fix, error) {
	raw := make(chan Fix, 8)
	n.mu.Lock()
	n.posSubs[raw] = struct{}{}
	n.mu.Unlock()

	out := make(chan Fix, 8)
	go func() {
		defer func() {
			n.mu.Lock()
			delete(n.posSubs, raw)
			n.mu.Unlock()
			close(out)
		}()
		var last *Fix
		for {
			select {
			case <-ctx.Done():
				return
			case fix, ok := <-raw:
				if !ok {
					return
				}
				if last != nil && cfg.MinMoveMeters > 0 &&
					geo.DistanceMeters(last.Coordinate, fix.Coordinate) < cfg.MinMoveMeters {
					continue
				}
				f := fix
				last = &f
				select {
				case out <- fix:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (n *NMEAProvider) WatchHeading(ctx context.Context) (<-chan Heading, error) {
	raw := make(chan Heading, 8)
	n.mu.Lock()
	n.hdgSubs[raw] = struct{}{}
	n.mu.Unlock()

	out := make(chan Heading, 8)
	go func() {
		defer func() {
			n.mu.Lock()
			delete(n.hdgSubs, raw)
			n.mu.Unlock()
			close(out)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case h, ok := <-raw:
				if !ok {
					return
				}
				select {
				case out <- h:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// readLoop parses sentences until the port is closed.
func (n *NMEAProvider) readLoop(port serial.Port) {
	scanner := bufio.NewScanner(port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sentence, err := nmea.Parse(line)
		if err != nil {
			// Noisy receivers emit partial sentences; skip quietly.
			continue
		}

		switch sentence.DataType() {
		case nmea.TypeRMC:
			m := sentence.(nmea.RMC)
			if m.Validity != "A" {
				continue
			}
			n.mu.Lock()
			fix := Fix{
				Coordinate: geo.Coordinate{Lat: m.Latitude, Lon: m.Longitude},
				AccuracyM:  n.accuracyLocked(),
				ObservedAt: time.Now(),
			}
			n.lastFix = &fix
			n.publishFixLocked(fix)
			n.mu.Unlock()

		case nmea.TypeGGA:
			m := sentence.(nmea.GGA)
			n.mu.Lock()
			n.hdop = m.HDOP
			n.mu.Unlock()

		case nmea.TypeHDT:
			m := sentence.(nmea.HDT)
			n.mu.Lock()
			n.publishHeadingLocked(Heading{TrueDeg: m.Heading, HasTrue: true})
			n.mu.Unlock()

		case nmea.TypeVTG:
			m := sentence.(nmea.VTG)
			n.mu.Lock()
			n.publishHeadingLocked(Heading{MagneticDeg: m.MagneticTrack, HasMagnetic: true})
			n.mu.Unlock()
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		log.Printf("[location] nmea read loop ended: %v", scanner.Err())
	}
	for ch := range n.posSubs {
		close(ch)
	}
	for ch := range n.hdgSubs {
		close(ch)
	}
	n.posSubs = map[chan Fix]struct{}{}
	n.hdgSubs = map[chan Heading]struct{}{}
}

func (n *NMEAProvider) accuracyLocked() float64 {
	if n.hdop <= 0 {
		return -1
	}
	return n.hdop * hdopBaseM
}

func (n *NMEAProvider) publishFixLocked(fix Fix) {
	for ch := range n.posSubs {
		select {
		case ch <- fix:
		default:
			// Subscriber too slow, drop
		}
	}
}

func (n *NMEAProvider) publishHeadingLocked(h Heading) {
	for ch := range n.hdgSubs {
		select {
		case ch <- h:
		default:
		}
	}
}
