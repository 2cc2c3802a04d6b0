package evo

import (
	"errors"
	"fmt"
	"math/rand"
)

// Selector chooses two parent ranks from a population ranked best first.
// The ranks must differ by at least incest.
type Selector interface {
	Name() string
	PickPair(rng *rand.Rand, size, incest int) (int, int, error)
}

// RankSelector weights rank i by size-i, so the best organism is the most
// likely parent and the worst still has a chance.
type RankSelector struct{}

func (RankSelector) Name() string {
	return "rank"
}

func (RankSelector) PickPair(rng *rand.Rand, size, incest int) (int, int, error) {
	if err := validatePick(rng, size, incest); err != nil {
		return 0, 0, err
	}
	first := weightedRank(rng, size, func(i int) bool { return hasPartner(i, size, incest) })
	second := weightedRank(rng, size, func(j int) bool { return distance(first, j) >= incest })
	return first, second, nil
}

// TournamentSelector samples TournamentSize ranks and keeps the best of them.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickPair(rng *rand.Rand, size, incest int) (int, int, error) {
	if err := validatePick(rng, size, incest); err != nil {
		return 0, 0, err
	}
	tournamentSize := s.TournamentSize
	if tournamentSize <= 0 {
		tournamentSize = 3
	}
	first := tournament(rng, candidates(size, func(i int) bool { return hasPartner(i, size, incest) }), tournamentSize)
	second := tournament(rng, candidates(size, func(j int) bool { return distance(first, j) >= incest }), tournamentSize)
	return first, second, nil
}

func SelectorFromName(name string) (Selector, error) {
	switch name {
	case "", "rank":
		return RankSelector{}, nil
	case "tournament":
		return TournamentSelector{}, nil
	default:
		return nil, fmt.Errorf("unsupported selector: %s", name)
	}
}

func validatePick(rng *rand.Rand, size, incest int) error {
	if rng == nil {
		return errors.New("random source is required")
	}
	if size < 2 {
		return fmt.Errorf("population of %d cannot supply two parents", size)
	}
	if incest < 0 || incest >= size {
		return fmt.Errorf("incest threshold must be in [0, %d), got %d", size, incest)
	}
	return nil
}

// hasPartner reports whether some other rank is at least incest away from i.
// Rank 0 always qualifies because incest < size.
func hasPartner(i, size, incest int) bool {
	return i >= incest || size-1-i >= incest
}

func distance(i, j int) int {
	if i > j {
		return i - j
	}
	return j - i
}

func weightedRank(rng *rand.Rand, size int, allowed func(int) bool) int {
	total := 0
	for i := 0; i < size; i++ {
		if allowed(i) {
			total += size - i
		}
	}
	pick := rng.Intn(total)
	for i := 0; i < size; i++ {
		if !allowed(i) {
			continue
		}
		pick -= size - i
		if pick < 0 {
			return i
		}
	}
	return 0
}

func candidates(size int, allowed func(int) bool) []int {
	out := make([]int, 0, size)
	for i := 0; i < size; i++ {
		if allowed(i) {
			out = append(out, i)
		}
	}
	return out
}

func tournament(rng *rand.Rand, pool []int, size int) int {
	best := pool[rng.Intn(len(pool))]
	for i := 1; i < size; i++ {
		if c := pool[rng.Intn(len(pool))]; c < best {
			best = c
		}
	}
	return best
}
