package oracle

import (
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// StaticSource is an in-process PriceSource with a settable round. It backs
// unit tests and local tooling where no real feed is wired.
type StaticSource struct {
	mu    sync.Mutex
	round Round
}

// NewStaticSource creates a source reporting the given integer price with
// the given decimal exponent, freshly updated.
func NewStaticSource(price uint64, decimals uint8) *StaticSource {
	return &StaticSource{
		round: Round{
			Price:     uint256.NewInt(price),
			Decimals:  decimals,
			UpdatedAt: time.Now(),
		},
	}
}

func (s *StaticSource) LatestRound() (Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Round{
		Price:     s.round.Price.Clone(),
		Decimals:  s.round.Decimals,
		UpdatedAt: s.round.UpdatedAt,
	}, nil
}

// SetPrice replaces the reported price and refreshes the update time.
func (s *StaticSource) SetPrice(price uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round.Price = uint256.NewInt(price)
	s.round.UpdatedAt = time.Now()
}

// SetUpdatedAt backdates the round, for staleness tests.
func (s *StaticSource) SetUpdatedAt(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.round.UpdatedAt = t
}
