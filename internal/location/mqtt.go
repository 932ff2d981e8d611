package location

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/SpasticCat/findmycar/internal/geo"
)

// MQTTProvider consumes position and heading updates published by a
// companion app (for example a phone running an OwnTracks-style reporter).
// One JSON report per message on a single topic.
type MQTTProvider struct {
	broker   string
	clientID string
	topic    string
	client   mqtt.Client

	mu      sync.Mutex
	started bool
	lastFix *Fix
	posSubs map[chan Fix]struct{}
	hdgSubs map[chan Heading]struct{}
}

// MQTTConfig holds connection settings for the MQTT provider.
type MQTTConfig struct {
	Broker   string `yaml:"broker" json:"broker"`
	ClientID string `yaml:"client_id" json:"clientId"`
	Topic    string `yaml:"topic" json:"topic"`
}

// report is the wire format of one location message.
type report struct {
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	AccuracyM   *float64 `json:"accuracy_m"`
	HeadingDeg  *float64 `json:"heading_deg"`
	MagneticDeg *float64 `json:"magnetic_deg"`
	TSMillis    int64    `json:"ts"`
}

// NewMQTT creates a new MQTT location provider.
func NewMQTT(cfg MQTTConfig) *MQTTProvider {
	if cfg.ClientID == "" {
		cfg.ClientID = "findmycar-location"
	}
	if cfg.Topic == "" {
		cfg.Topic = "findmycar/location"
	}
	return &MQTTProvider{
		broker:   cfg.Broker,
		clientID: cfg.ClientID,
		topic:    cfg.Topic,
		posSubs:  map[chan Fix]struct{}{},
		hdgSubs:  map[chan Heading]struct{}{},
	}
}

func (p *MQTTProvider) Name() string { return "MQTT" }

// RequestPermission connects to the broker and subscribes to the report
// topic. A refused connection surfaces as a denied permission.
func (p *MQTTProvider) RequestPermission(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(p.broker).
		SetClientID(p.clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("%w: connect %s: %v", ErrPermissionDenied, p.broker, token.Error())
	}
	if token := client.Subscribe(p.topic, 0, p.onMessage); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("location: subscribe %s: %w", p.topic, token.Error())
	}
	p.client = client
	p.started = true
	log.Printf("[location] mqtt subscribed to %s on %s", p.topic, p.broker)
	return nil
}

func (p *MQTTProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.Disconnect(250)
		p.client = nil
	}
	p.started = false
	for ch := range p.posSubs {
		close(ch)
	}
	for ch := range p.hdgSubs {
		close(ch)
	}
	p.posSubs = map[chan Fix]struct{}{}
	p.hdgSubs = map[chan Heading]struct{}{}
	return nil
}

func (p *MQTTProvider) CurrentFix(_ context.Context) (Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastFix == nil {
		return Fix{}, ErrNoFix
	}
	return *p.lastFix, nil
}

func (p *MQTTProvider) WatchPosition(ctx context.Context, cfg WatchConfig) (<-chan Fix, error) {
	raw := make(chan Fix, 8)
	p.mu.Lock()
	p.posSubs[raw] = struct{}{}
	p.mu.Unlock()

	out := make(chan Fix, 8)
	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.posSubs, raw)
			p.mu.Unlock()
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

func (p *MQTTProvider) WatchHeading(ctx context.Context) (<-chan Heading, error) {
	raw := make(chan Heading, 8)
	p.mu.Lock()
	p.hdgSubs[raw] = struct{}{}
	p.mu.Unlock()

	out := make(chan Heading, 8)
	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.hdgSubs, raw)
			p.mu.Unlock()
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

func (p *MQTTProvider) onMessage(_ mqtt.Client, msg mqtt.Message) {
	var r report
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		log.Printf("[location] mqtt bad payload: %v", err)
		return
	}
	coord := geo.Coordinate{Lat: r.Lat, Lon: r.Lon}
	if !coord.Valid() {
		log.Printf("[location] mqtt out-of-range coordinate %.5f,%.5f dropped", r.Lat, r.Lon)
		return
	}

	observed := time.Now()
	if r.TSMillis > 0 {
		observed = time.UnixMilli(r.TSMillis)
	}
	acc := -1.0
	if r.AccuracyM != nil && *r.AccuracyM >= 0 {
		acc = *r.AccuracyM
	}
	fix := Fix{Coordinate: coord, AccuracyM: acc, ObservedAt: observed}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFix = &fix
	for ch := range p.posSubs {
		select {
		case ch <- fix:
		default:
		}
	}

	var h Heading
	if r.HeadingDeg != nil {
		h.TrueDeg = *r.HeadingDeg
		h.HasTrue = true
	}
	if r.MagneticDeg != nil {
		h.MagneticDeg = *r.MagneticDeg
		h.HasMagnetic = true
	}
	if h.HasTrue || h.HasMagnetic {
		for ch := range p.hdgSubs {
			select {
			case ch <- h:
			default:
			}
		}
	}
}
