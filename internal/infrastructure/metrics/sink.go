// Package metrics provides fire-and-forget scalar recording for training
// runs.
package metrics

import "sync"

// Sink accepts (name, value, step) scalar triples. Implementations must be
// safe for fire-and-forget use: Record never returns an error and never
// blocks training on sink failures.
type Sink interface {
	Record(name string, value float64, step int64)
}

// Nop discards everything.
type Nop struct{}

// Record does nothing.
func (Nop) Record(string, float64, int64) {}

// Point is one recorded scalar.
type Point struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Step  int64   `json:"step"`
}

// MemorySink keeps recorded scalars in memory, for tests and small runs.
type MemorySink struct {
	mu     sync.RWMutex
	points []Point
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends the scalar.
func (s *MemorySink) Record(name string, value float64, step int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, Point{Name: name, Value: value, Step: step})
}

// Series returns all points recorded under a name, in recording order.
func (s *MemorySink) Series(name string) []Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Point
	for _, p := range s.points {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the total number of recorded points.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}
