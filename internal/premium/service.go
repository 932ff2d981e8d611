package premium

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// StaticService is an offline entitlement backend for development and tests.
// Purchase grants the product as an entitlement; Restore returns whatever
// was granted before.
type StaticService struct {
	mu      sync.Mutex
	granted map[string]bool

	// CancelPurchases makes Purchase behave like the user dismissing the
	// payment sheet.
	CancelPurchases bool
	// Err, when set, is returned by every call. Simulates network failure.
	Err error
}

func NewStaticService(granted ...string) *StaticService {
	m := map[string]bool{}
	for _, g := range granted {
		m[g] = true
	}
	return &StaticService{granted: m}
}

func (s *StaticService) Entitlements(context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return Snapshot{}, s.Err
	}
	return s.snapshotLocked(), nil
}

func (s *StaticService) Purchase(_ context.Context, product string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return Snapshot{}, s.Err
	}
	if s.CancelPurchases {
		return Snapshot{}, ErrUserCancelled
	}
	s.granted[product] = true
	return s.snapshotLocked(), nil
}

func (s *StaticService) Restore(context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return Snapshot{}, s.Err
	}
	return s.snapshotLocked(), nil
}

func (s *StaticService) snapshotLocked() Snapshot {
	var snap Snapshot
	for id, ok := range s.granted {
		if ok {
			snap.Active = append(snap.Active, id)
		}
	}
	return snap
}

// HTTPService talks to a remote entitlement backend over JSON. Endpoints:
// GET /entitlements, POST /purchase?product=..., POST /restore. A purchase
// the user abandoned comes back as HTTP 409 and maps to ErrUserCancelled.
type HTTPService struct {
	base   string
	client *http.Client
}

func NewHTTPService(base string) *HTTPService {
	return &HTTPService{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPService) Entitlements(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, http.MethodGet, "/entitlements")
}

func (s *HTTPService) Purchase(ctx context.Context, product string) (Snapshot, error) {
	return s.do(ctx, http.MethodPost, "/purchase?product="+url.QueryEscape(product))
}

func (s *HTTPService) Restore(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, http.MethodPost, "/restore")
}

func (s *HTTPService) do(ctx context.Context, method, path string) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, nil)
	if err != nil {
		return Snapshot{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return Snapshot{}, ErrUserCancelled
	}
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("premium: backend returned %s", resp.Status)
	}
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("premium: decode response: %w", err)
	}
	return snap, nil
}
