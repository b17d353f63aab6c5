// Package deck deals the cards of a session.
package deck

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/errors"
)

// Source provides the pool of active questions.
type Source interface {
	Active(ctx context.Context) ([]domain.Question, error)
}

type Config struct {
	Source Source
	// Rand drives selection and shuffling. Nil uses the global generator.
	Rand *rand.Rand
}

// Assembler deals label balanced decks: PerLabel questions of every label, shuffled together.
type Assembler struct {
	src Source

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewAssembler(c Config) *Assembler {
	return &Assembler{
		src: c.Source,
		rnd: c.Rand,
	}
}

// Assemble returns DeckSize cards with OrderIndex set to their position.
func (a *Assembler) Assemble(ctx context.Context) ([]domain.Card, error) {
	pool, err := a.src.Active(ctx)
	if err != nil {
		return nil, fmt.Errorf("deck: load questions: %w", err)
	}

	byLabel := make(map[domain.Label][]domain.Question, len(domain.Labels))
	for _, q := range pool {
		if q.Active {
			byLabel[q.Label] = append(byLabel[q.Label], q)
		}
	}

	for _, l := range domain.Labels {
		if n := len(byLabel[l]); n < domain.PerLabel {
			return nil, errors.New(errors.CodeUnavailable,
				errors.WithReason(errors.ReasonInsufficientContent),
				errors.WithMessagef("not enough active %s questions: have %d, need %d", l, n, domain.PerLabel),
			)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	picked := make([]domain.Question, 0, domain.DeckSize)
	for _, l := range domain.Labels {
		picked = append(picked, a.sample(byLabel[l], domain.PerLabel)...)
	}
	a.shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })

	cards := make([]domain.Card, 0, len(picked))
	for i, q := range picked {
		cards = append(cards, domain.Card{
			ID:         q.ID,
			Prompt:     q.Prompt,
			ImageURL:   q.ImageURL,
			OrderIndex: i,
		})
	}

	return cards, nil
}

// sample draws n questions uniformly without replacement using a partial Fisher-Yates pass
// over a copy of qs.
func (a *Assembler) sample(qs []domain.Question, n int) []domain.Question {
	c := make([]domain.Question, len(qs))
	copy(c, qs)

	for i := 0; i < n; i++ {
		j := i + a.intN(len(c)-i)
		c[i], c[j] = c[j], c[i]
	}

	return c[:n]
}

func (a *Assembler) intN(n int) int {
	if a.rnd != nil {
		return a.rnd.IntN(n)
	}
	return rand.IntN(n)
}

func (a *Assembler) shuffle(n int, swap func(i, j int)) {
	if a.rnd != nil {
		a.rnd.Shuffle(n, swap)
		return
	}
	rand.Shuffle(n, swap)
}
