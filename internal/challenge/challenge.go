package challenge

import (
	"strings"
	"time"
	"unicode"
)

type Category string

const (
	CategoryRiddle     Category = "riddle"
	CategoryLogic      Category = "logic"
	CategoryCreativity Category = "creativity"
	CategoryTrivia     Category = "trivia"
	CategorySpeed      Category = "speed"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Rubric is the scoring contract every challenge kind satisfies. Adding a new
// challenge kind means adding a new rubric variant, not branching on category
// strings at the call sites.
type Rubric interface {
	// Evaluate returns a raw score for a submitted text. Callers clamp to
	// [0, MaxPoints]; rubrics only rank.
	Evaluate(text string, timeUsed, limit time.Duration) int
	isRubric()
}

// ExactAnswerRubric awards full points for any accepted answer, zero otherwise.
// Used by riddle and trivia challenges.
type ExactAnswerRubric struct {
	Answers []string `json:"answers"`
	Points  int      `json:"points"`
}

func (ExactAnswerRubric) isRubric() {}

func (r ExactAnswerRubric) Evaluate(text string, _, _ time.Duration) int {
	got := normalize(text)
	for _, a := range r.Answers {
		if normalize(a) == got {
			return r.Points
		}
	}
	return 0
}

// KeywordRubric awards points per matched keyword. Used by logic challenges
// where partial reasoning earns partial credit.
type KeywordRubric struct {
	Keywords  []string `json:"keywords"`
	PerMatch  int      `json:"per_match"`
	BasePoint int      `json:"base"`
}

func (KeywordRubric) isRubric() {}

func (r KeywordRubric) Evaluate(text string, _, _ time.Duration) int {
	got := normalize(text)
	score := 0
	if len(strings.TrimSpace(text)) > 0 {
		score = r.BasePoint
	}
	for _, kw := range r.Keywords {
		if strings.Contains(got, normalize(kw)) {
			score += r.PerMatch
		}
	}
	return score
}

// LengthRubric rewards richer responses up to a cap. Used by creativity
// challenges, where the real judging model lives behind the provider; this is
// the deterministic stand-in contract.
type LengthRubric struct {
	PointsPerWord int `json:"points_per_word"`
	WordCap       int `json:"word_cap"`
}

func (LengthRubric) isRubric() {}

func (r LengthRubric) Evaluate(text string, _, _ time.Duration) int {
	words := WordCount(text)
	if words > r.WordCap {
		words = r.WordCap
	}
	return words * r.PointsPerWord
}

// SpeedRubric scales points by remaining time: a correct answer submitted
// instantly earns full points, one at the deadline earns the floor.
type SpeedRubric struct {
	Answers []string `json:"answers"`
	Points  int      `json:"points"`
	Floor   int      `json:"floor"`
}

func (SpeedRubric) isRubric() {}

func (r SpeedRubric) Evaluate(text string, timeUsed, limit time.Duration) int {
	correct := ExactAnswerRubric{Answers: r.Answers, Points: 1}.Evaluate(text, timeUsed, limit)
	if correct == 0 {
		return 0
	}
	if limit <= 0 || timeUsed >= limit {
		return r.Floor
	}
	remaining := float64(limit-timeUsed) / float64(limit)
	score := r.Floor + int(float64(r.Points-r.Floor)*remaining)
	return score
}

// Challenge is immutable once issued to a round.
type Challenge struct {
	ID         string        `json:"id"`
	Category   Category      `json:"category"`
	Difficulty Difficulty    `json:"difficulty"`
	Prompt     string        `json:"prompt"`
	MaxPoints  int           `json:"max_points"`
	TimeLimit  time.Duration `json:"time_limit"`
	Rubric     Rubric        `json:"-"`
}

// WordCount counts whitespace-separated words in a submission.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
