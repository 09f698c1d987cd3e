// Package reconcile resolves partial removal criteria to one stored entry.
package reconcile

import (
	"log/slog"
	"strings"

	"github.com/kalambet/dashbot/internal/command"
	"github.com/kalambet/dashbot/internal/storage"
)

// Candidate is a stored entry with its score against the criteria.
type Candidate struct {
	Entry storage.Entry
	Score int
}

// Reconcile scores candidates against criteria and returns the entry with
// the highest positive score. Candidates must arrive most recent first: the
// running best is only replaced on a strictly higher score, so on a tie the
// most recent entry wins. ok is false when nothing scored above zero.
func Reconcile(criteria command.Payload, candidates []storage.Entry) (best storage.Entry, ok bool) {
	bestScore := 0
	for _, c := range Rank(criteria, candidates) {
		if c.Score > bestScore {
			best, bestScore = c.Entry, c.Score
		}
	}
	return best, bestScore > 0
}

// Rank scores every decodable candidate, preserving input order. Entries
// whose stored data does not decode for the criteria's category score zero.
func Rank(criteria command.Payload, candidates []storage.Entry) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, e := range candidates {
		c := Candidate{Entry: e}
		if string(criteria.Category()) == e.Category {
			p, err := command.DecodeLenient(criteria.Category(), e.Data)
			if err != nil {
				slog.Debug("skipping undecodable candidate", "entry_id", e.ID, "error", err)
			} else {
				c.Score = Score(criteria, p)
			}
		}
		out = append(out, c)
	}
	return out
}

// Score applies the fixed weighting rules of the criteria's category. Only
// criteria fields that were supplied contribute.
func Score(criteria, candidate command.Payload) int {
	switch q := criteria.(type) {
	case command.FinancePayload:
		c, ok := candidate.(command.FinancePayload)
		if !ok {
			return 0
		}
		score := 0
		if q.Amount != nil && c.Amount != nil && *q.Amount == *c.Amount {
			score += 3
		}
		if q.Description != "" && containsFold(c.Description, q.Description) {
			score += 2
		}
		if q.Subcategory != "" && q.Subcategory == c.Subcategory {
			score++
		}
		if q.Date != "" && q.Date == c.Date {
			score++
		}
		return score

	case command.DatingPayload:
		c, ok := candidate.(command.DatingPayload)
		if !ok {
			return 0
		}
		if q.Person != "" && strings.EqualFold(q.Person, c.Person) {
			return 5
		}
		return 0

	case command.TodoPayload:
		c, ok := candidate.(command.TodoPayload)
		if !ok {
			return 0
		}
		score := 0
		if q.Task != "" && containsFold(c.Task, q.Task) {
			score += 3
		}
		if q.Priority != "" && q.Priority == c.Priority {
			score++
		}
		if q.Due != "" && q.Due == c.Due {
			score++
		}
		return score

	case command.HabitPayload:
		c, ok := candidate.(command.HabitPayload)
		if !ok {
			return 0
		}
		score := 0
		if q.Habit != "" && q.Habit == c.Habit {
			score += 3
		}
		if q.Date != "" && q.Date == c.Date {
			score++
		}
		return score

	case command.SleepPayload:
		c, ok := candidate.(command.SleepPayload)
		if !ok {
			return 0
		}
		score := 0
		if q.Date != "" && q.Date == c.Date {
			score += 2
		}
		if q.Score != nil && c.Score != nil && *q.Score == *c.Score {
			score++
		}
		return score

	case command.NetWorthPayload:
		c, ok := candidate.(command.NetWorthPayload)
		if !ok {
			return 0
		}
		score := 0
		if q.Date != "" && q.Date == c.Date {
			score += 2
		}
		if q.Savings != nil && c.Savings != nil && *q.Savings == *c.Savings {
			score++
		}
		if q.Trading != nil && c.Trading != nil && *q.Trading == *c.Trading {
			score++
		}
		return score
	}
	return 0
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
