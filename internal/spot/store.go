package spot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/SpasticCat/findmycar/internal/geo"
	"github.com/SpasticCat/findmycar/internal/keyvalue"
	"github.com/SpasticCat/findmycar/internal/premium"
)

var (
	// ErrNotReady means no coordinate was available to save.
	ErrNotReady = errors.New("spot: no current position to save")
	// ErrNoSavedSpot means the operation needs a saved spot and none exists.
	ErrNoSavedSpot = errors.New("spot: no saved spot")
	// ErrConfirmRequired means the caller must confirm before a destructive
	// overwrite or clear proceeds.
	ErrConfirmRequired = errors.New("spot: confirmation required")
	// ErrPersistence wraps storage failures. The in-memory state has still
	// been updated; durability is not guaranteed until a later write
	// succeeds.
	ErrPersistence = errors.New("spot: persistence failure")
)

// Spot is the single saved parking spot.
type Spot struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	SavedAt    time.Time      `json:"saved_at"`
	Note       string         `json:"note,omitempty"`
}

// Store owns the single-slot saved spot and its persistence. Overwrite and
// clear are two-phase: callers pass confirmed=false first, get
// ErrConfirmRequired back when a spot exists, and retry with confirmed=true
// after the user agrees.
type Store struct {
	mu   sync.Mutex
	kv   keyvalue.Store
	gate *premium.Gate
	spot *Spot
}

func NewStore(kv keyvalue.Store, gate *premium.Gate) *Store {
	return &Store{kv: kv, gate: gate}
}

// Load restores a persisted spot, if any. Coordinate presence is the marker;
// a missing timestamp alongside a coordinate means a torn write and the spot
// is discarded.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawCoord, ok, err := s.kv.Get(ctx, keyvalue.KeySpotCoordinate)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return nil
	}
	var coord geo.Coordinate
	if err := json.Unmarshal(rawCoord, &coord); err != nil {
		log.Printf("[spot] discarding unreadable stored coordinate: %v", err)
		return nil
	}

	rawAt, ok, err := s.kv.Get(ctx, keyvalue.KeySpotSavedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		log.Printf("[spot] stored coordinate without timestamp, discarding")
		return nil
	}
	savedAt, err := time.Parse(time.RFC3339Nano, string(rawAt))
	if err != nil {
		log.Printf("[spot] discarding unreadable stored timestamp: %v", err)
		return nil
	}

	sp := &Spot{Coordinate: coord, SavedAt: savedAt}
	if rawNote, ok, _ := s.kv.Get(ctx, keyvalue.KeySpotNote); ok {
		sp.Note = string(rawNote)
	}
	s.spot = sp
	log.Printf("[spot] restored spot saved at %s", savedAt.Format(time.RFC3339))
	return nil
}

// Spot returns a copy of the saved spot, ok=false when none exists.
func (s *Store) Spot() (Spot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spot == nil {
		return Spot{}, false
	}
	return *s.spot, true
}

// Save stores coord as the spot. When a spot already exists the caller must
// pass confirmed=true or the existing spot is left untouched. Overwrite
// drops the old note; there is no note carry-over.
func (s *Store) Save(ctx context.Context, coord geo.Coordinate, confirmed bool) (Spot, error) {
	if !coord.Valid() {
		return Spot{}, ErrNotReady
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spot != nil && !confirmed {
		return *s.spot, ErrConfirmRequired
	}

	sp := &Spot{Coordinate: coord, SavedAt: time.Now()}
	s.spot = sp

	// Timestamp before coordinate: readers treat the coordinate key as the
	// marker, so there is never a coordinate without a timestamp.
	if err := s.kv.Remove(ctx, keyvalue.KeySpotNote); err != nil {
		return *sp, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := s.kv.Set(ctx, keyvalue.KeySpotSavedAt, []byte(sp.SavedAt.Format(time.RFC3339Nano))); err != nil {
		return *sp, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	rawCoord, _ := json.Marshal(coord)
	if err := s.kv.Set(ctx, keyvalue.KeySpotCoordinate, rawCoord); err != nil {
		return *sp, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	log.Printf("[spot] saved %.5f,%.5f", coord.Lat, coord.Lon)
	return *sp, nil
}

// Clear removes the spot, its timestamp and its note in one step. Requires
// an existing spot and caller confirmation.
func (s *Store) Clear(ctx context.Context, confirmed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spot == nil {
		return ErrNoSavedSpot
	}
	if !confirmed {
		return ErrConfirmRequired
	}

	s.spot = nil
	err := s.kv.RemoveMany(ctx, []string{
		keyvalue.KeySpotCoordinate,
		keyvalue.KeySpotSavedAt,
		keyvalue.KeySpotNote,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	log.Printf("[spot] cleared")
	return nil
}

// SetNote attaches a note to the saved spot. Premium only. Whitespace is
// trimmed; an empty result removes the note rather than storing "".
func (s *Store) SetNote(ctx context.Context, text string) error {
	if !s.gate.IsActive() {
		return premium.ErrPremiumRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spot == nil {
		return ErrNoSavedSpot
	}

	text = strings.TrimSpace(text)
	s.spot.Note = text

	if text == "" {
		if err := s.kv.Remove(ctx, keyvalue.KeySpotNote); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return nil
	}
	if err := s.kv.Set(ctx, keyvalue.KeySpotNote, []byte(text)); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
