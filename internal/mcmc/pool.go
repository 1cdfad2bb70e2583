package mcmc

import (
	"math/rand/v2"

	"relinfer/pkg/model"
)

// seedPool is an unordered set of resampling candidates with constant-time
// insert, delete and uniform choice.
type seedPool struct {
	ids []model.VarID
	pos map[model.VarID]int
}

func newSeedPool() *seedPool {
	return &seedPool{pos: make(map[model.VarID]int)}
}

func (s *seedPool) add(id model.VarID) {
	if _, ok := s.pos[id]; ok {
		return
	}
	s.pos[id] = len(s.ids)
	s.ids = append(s.ids, id)
}

func (s *seedPool) remove(id model.VarID) {
	i, ok := s.pos[id]
	if !ok {
		return
	}
	last := len(s.ids) - 1
	s.ids[i] = s.ids[last]
	s.pos[s.ids[i]] = i
	s.ids = s.ids[:last]
	delete(s.pos, id)
}

func (s *seedPool) len() int { return len(s.ids) }

func (s *seedPool) pick(rng *rand.Rand) model.VarID {
	return s.ids[rng.IntN(len(s.ids))]
}
