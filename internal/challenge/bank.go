package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StaticProvider serves challenges from a built-in bank. It doubles as the
// fallback source when a remote provider times out.
type StaticProvider struct {
	mu     sync.Mutex
	bank   []Challenge
	cursor int
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{bank: defaultBank()}
}

func (p *StaticProvider) GetChallenge(_ context.Context, categories []Category, difficulty Difficulty) (Challenge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	allowed := func(c Category) bool {
		if len(categories) == 0 {
			return true
		}
		for _, want := range categories {
			if c == want {
				return true
			}
		}
		return false
	}

	// One rotation over the bank: prefer a category+difficulty match, remember
	// the first category-only match as a fallback.
	fallbackIdx := -1
	n := len(p.bank)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		c := p.bank[idx]
		if !allowed(c.Category) {
			continue
		}
		if c.Difficulty == difficulty || difficulty == "" {
			p.cursor = (idx + 1) % n
			return issue(c), nil
		}
		if fallbackIdx < 0 {
			fallbackIdx = idx
		}
	}
	if fallbackIdx >= 0 {
		p.cursor = (fallbackIdx + 1) % len(p.bank)
		return issue(p.bank[fallbackIdx]), nil
	}
	return Challenge{}, ErrNoChallenge
}

func (p *StaticProvider) ScoreAgainstRubric(_ context.Context, text string, timeUsed time.Duration, ch Challenge) (int, error) {
	if ch.Rubric == nil {
		return 0, ErrNoChallenge
	}
	return ch.Rubric.Evaluate(text, timeUsed, ch.TimeLimit), nil
}

// issue stamps a bank template with a fresh id so every round gets a distinct
// immutable challenge instance.
func issue(c Challenge) Challenge {
	c.ID = uuid.NewString()
	return c
}

// Fallback returns the default challenge used when the content provider cannot
// be reached before the round must start.
func Fallback(limit time.Duration) Challenge {
	return Challenge{
		ID:         uuid.NewString(),
		Category:   CategoryCreativity,
		Difficulty: DifficultyEasy,
		Prompt:     "Describe the most creative use you can imagine for an ordinary paperclip.",
		MaxPoints:  10,
		TimeLimit:  limit,
		Rubric:     LengthRubric{PointsPerWord: 1, WordCap: 10},
	}
}

func defaultBank() []Challenge {
	return []Challenge{
		{
			Category:   CategoryRiddle,
			Difficulty: DifficultyEasy,
			Prompt:     "I speak without a mouth and hear without ears. I have no body, but I come alive with wind. What am I?",
			MaxPoints:  10,
			TimeLimit:  60 * time.Second,
			Rubric:     ExactAnswerRubric{Answers: []string{"echo", "an echo"}, Points: 10},
		},
		{
			Category:   CategoryRiddle,
			Difficulty: DifficultyMedium,
			Prompt:     "The more of this there is, the less you see. What is it?",
			MaxPoints:  12,
			TimeLimit:  60 * time.Second,
			Rubric:     ExactAnswerRubric{Answers: []string{"darkness", "the dark"}, Points: 12},
		},
		{
			Category:   CategoryLogic,
			Difficulty: DifficultyMedium,
			Prompt:     "A farmer must ferry a wolf, a goat, and a cabbage across a river in a boat that carries one item. Explain the crossing order.",
			MaxPoints:  15,
			TimeLimit:  90 * time.Second,
			Rubric:     KeywordRubric{Keywords: []string{"goat", "return", "wolf", "cabbage"}, PerMatch: 3, BasePoint: 3},
		},
		{
			Category:   CategoryLogic,
			Difficulty: DifficultyHard,
			Prompt:     "Three boxes are all mislabeled: apples, oranges, mixed. You may draw one fruit from one box. How do you relabel all three?",
			MaxPoints:  15,
			TimeLimit:  120 * time.Second,
			Rubric:     KeywordRubric{Keywords: []string{"mixed", "one fruit", "swap", "mislabeled"}, PerMatch: 3, BasePoint: 3},
		},
		{
			Category:   CategoryCreativity,
			Difficulty: DifficultyEasy,
			Prompt:     "Write the opening line of a story set on the last day the sun rises.",
			MaxPoints:  10,
			TimeLimit:  90 * time.Second,
			Rubric:     LengthRubric{PointsPerWord: 1, WordCap: 10},
		},
		{
			Category:   CategoryCreativity,
			Difficulty: DifficultyMedium,
			Prompt:     "Invent a holiday, name it, and describe how it is celebrated.",
			MaxPoints:  20,
			TimeLimit:  120 * time.Second,
			Rubric:     LengthRubric{PointsPerWord: 1, WordCap: 20},
		},
		{
			Category:   CategoryTrivia,
			Difficulty: DifficultyEasy,
			Prompt:     "Which planet in our solar system has the most moons?",
			MaxPoints:  8,
			TimeLimit:  30 * time.Second,
			Rubric:     ExactAnswerRubric{Answers: []string{"saturn"}, Points: 8},
		},
		{
			Category:   CategorySpeed,
			Difficulty: DifficultyEasy,
			Prompt:     "Quick: what is 17 times 6?",
			MaxPoints:  10,
			TimeLimit:  15 * time.Second,
			Rubric:     SpeedRubric{Answers: []string{"102"}, Points: 10, Floor: 2},
		},
		{
			Category:   CategorySpeed,
			Difficulty: DifficultyMedium,
			Prompt:     "Quick: spell 'orchestration' backwards.",
			MaxPoints:  12,
			TimeLimit:  20 * time.Second,
			Rubric:     SpeedRubric{Answers: []string{"noitartsehcro"}, Points: 12, Floor: 3},
		},
	}
}
