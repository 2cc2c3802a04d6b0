package evo

// StagnationTracker counts consecutive generations without a strictly better
// best fitness.
type StagnationTracker struct {
	best         float64
	seen         bool
	staleFor     int
	lastImproved int
}

// Observe records the best fitness of generation gen and reports whether it
// improved on every earlier observation. The first observation counts as an
// improvement.
func (s *StagnationTracker) Observe(gen int, best float64) bool {
	if !s.seen || best < s.best {
		s.best = best
		s.seen = true
		s.staleFor = 0
		s.lastImproved = gen
		return true
	}
	s.staleFor++
	return false
}

func (s *StagnationTracker) StaleFor() int { return s.staleFor }

func (s *StagnationTracker) LastImproved() int { return s.lastImproved }

func (s *StagnationTracker) Best() float64 { return s.best }

// Stagnant applies the stopping rule: at least minGenerations have run and
// the best has not improved for window generations. A window <= 0 disables
// the rule.
func (s *StagnationTracker) Stagnant(gen, minGenerations, window int) bool {
	if window <= 0 {
		return false
	}
	return gen >= minGenerations && s.staleFor >= window
}
