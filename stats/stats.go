package stats

import (
	"encoding/json"
	"math"
	"sync"

	"github.com/c360/framesync/frame"
)

// Stats summarises one decoded frame.
type Stats struct {
	MeanNonZero    float64            `json:"mean_nonzero"`
	ValidRatio     float64            `json:"valid_ratio"`
	Channels       int                `json:"num_channels"`
	Shape          []int              `json:"shape"`
	Reported       frame.ReportedSize `json:"reported_size"`
	SizeConsistent bool               `json:"size_consistent"`
	NonZero        int                `json:"nonzero"`
	Size           int                `json:"size"`
}

// MarshalJSON renders a NaN mean as null; encoding/json rejects NaN.
func (s Stats) MarshalJSON() ([]byte, error) {
	type plain Stats
	out := struct {
		plain
		MeanNonZero *float64 `json:"mean_nonzero"`
	}{plain: plain(s)}
	if !math.IsNaN(s.MeanNonZero) && !math.IsInf(s.MeanNonZero, 0) {
		mean := s.MeanNonZero
		out.MeanNonZero = &mean
	}
	return json.Marshal(out)
}

// Computer computes statistics using per-stream policies.
type Computer struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewComputer creates a computer. A nil map falls back to DefaultPolicies.
func NewComputer(policies map[string]Policy) *Computer {
	if policies == nil {
		policies = DefaultPolicies()
	}
	copied := make(map[string]Policy, len(policies))
	for name, p := range policies {
		copied[name] = p
	}
	return &Computer{policies: copied}
}

// Policy returns the policy for a stream; streams without one get the zero policy.
func (c *Computer) Policy(stream string) Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policies[stream]
}

// SetPolicy replaces the policy for a stream.
func (c *Computer) SetPolicy(stream string, p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[stream] = p
}

// Compute returns the statistics of f and sanitizes f in place per the stream's
// policy. Validity is judged on the decoded samples: a zero is a missing
// measurement even when the policy later folds it into the background bound.
// The sum uses clipped values. Zeros remapped to the background bound count in
// neither the sum nor the nonzero count. It never fails; a frame without
// nonzero samples yields a NaN mean.
func (c *Computer) Compute(stream string, f *frame.Decoded, reported frame.ReportedSize) Stats {
	p := c.Policy(stream)

	sum, nonzero := accumulate(f, p)
	Sanitize(f, p)
	size := f.Size()

	s := Stats{
		Channels:       f.Channels(),
		Shape:          append([]int(nil), f.Shape...),
		Reported:       reported,
		SizeConsistent: p.ExpectedSize <= 0 || size == p.ExpectedSize,
		NonZero:        nonzero,
		Size:           size,
	}

	if nonzero == 0 {
		s.MeanNonZero = math.NaN()
		s.ValidRatio = 0
		return s
	}

	// Numerator sums every sample, zeros included.
	s.MeanNonZero = sum / float64(nonzero)
	s.ValidRatio = float64(nonzero) / float64(f.Height()*f.Width()*s.Channels)
	return s
}

func accumulate(f *frame.Decoded, p Policy) (sum float64, nonzero int) {
	clip := p.Sanitizes()
	for i, n := 0, f.Size(); i < n; i++ {
		v := f.At(i)
		if v == 0 {
			continue
		}
		nonzero++
		if clip && !(v < p.ClipMax) {
			v = p.ClipMax
		}
		sum += v
	}
	return sum, nonzero
}
