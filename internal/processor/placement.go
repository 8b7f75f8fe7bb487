package processor

import (
	"fmt"
	"math"
	"sync"

	"github.com/ZacxDev/clip-composer/internal/config"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
)

// PlacementKind tells overlays and b-rolls apart.
type PlacementKind string

const (
	PlacementOverlay PlacementKind = "overlay"
	PlacementBroll   PlacementKind = "broll"
)

// Placement is a layer scheduled on the trimmed body timeline, in seconds.
type Placement struct {
	// Asset names the layer: "overlay" or "broll_<index>"
	Asset    string
	Path     string
	Kind     PlacementKind
	Start    float64
	Duration float64
}

// End returns Start + Duration.
func (p Placement) End() float64 { return p.Start + p.Duration }

func (p Placement) overlaps(o Placement) bool {
	return p.Start < o.End() && o.Start < p.End()
}

// Sampler is the random source used to place b-rolls. Float64 returns a value in [0, 1).
type Sampler interface {
	Float64() float64
}

// lockedSampler makes a rand.Rand safe for concurrent requests.
type lockedSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a concurrency-safe sampler seeded with seed.
func NewSampler(seed uint64) Sampler {
	return &lockedSampler{rng: rand.New(rand.NewSource(seed))}
}

func (s *lockedSampler) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

var errUnplaceable = errors.New("no room on the body timeline")

// PlanOverlay schedules the logo at a fixed offset. ok is false when the body is
// too short for a positive duration.
func PlanOverlay(asset string, bodyDuration float64) (Placement, bool) {
	duration := math.Min(config.OverlayMaxDuration, bodyDuration-config.OverlayStart)
	if duration <= 0 {
		return Placement{}, false
	}
	return Placement{
		Asset:    asset,
		Kind:     PlacementOverlay,
		Start:    config.OverlayStart,
		Duration: duration,
	}, true
}

// PlanBroll draws a start in [7, max(7.1, body-3)] and clips the b-roll to the
// remaining body. When taken is non-empty, up to maxAttempts draws are made to
// avoid overlapping an earlier placement.
func PlanBroll(s Sampler, asset string, brollDuration, bodyDuration float64, taken []Placement, maxAttempts int) (Placement, error) {
	usable := math.Min(config.BrollMaxDuration, brollDuration)
	if usable <= 0 {
		return Placement{}, errors.Errorf("b-roll %s has no usable duration", asset)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	lo := config.BrollWindowStart
	hi := math.Max(config.BrollWindowMinEnd, bodyDuration-config.BrollTailReserve)

	var last error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := lo + s.Float64()*(hi-lo)
		duration := math.Min(usable, bodyDuration-start)
		if duration <= 0 {
			last = errors.Wrapf(errUnplaceable, "start %.3fs is past body end %.3fs", start, bodyDuration)
			continue
		}
		p := Placement{Asset: asset, Kind: PlacementBroll, Start: start, Duration: duration}
		if clash := firstOverlap(p, taken); clash != nil {
			last = errors.Wrap(errUnplaceable, fmt.Sprintf("overlaps %s at %.3fs", clash.Asset, clash.Start))
			continue
		}
		return p, nil
	}
	return Placement{}, last
}

func firstOverlap(p Placement, taken []Placement) *Placement {
	for i := range taken {
		if p.overlaps(taken[i]) {
			return &taken[i]
		}
	}
	return nil
}
