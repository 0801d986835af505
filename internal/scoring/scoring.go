// Package scoring turns a set of answers into a percentage score.
//
// Only multiple-choice, true-false and fill-in-blank questions are graded
// automatically. Short and long answers count toward the total points but
// never earn any, so they lower the percentage until a human grades them.
package scoring

import (
	"math"
	"strings"

	"github.com/examily/examily-backend/internal/model"
)

// Outcome is the grading result of a single question.
type Outcome string

const (
	OutcomeCorrect    Outcome = "correct"
	OutcomeIncorrect  Outcome = "incorrect"
	OutcomeUnanswered Outcome = "unanswered"
	OutcomeManual     Outcome = "needs_manual_grading"
)

// Item is the per-question part of a Report.
type Item struct {
	QuestionID string             `json:"question_id"`
	Type       model.QuestionType `json:"type"`
	Outcome    Outcome            `json:"outcome"`
	Points     float64            `json:"points"`
	Earned     float64            `json:"earned"`
}

// Report is the full breakdown of a grading pass.
type Report struct {
	TotalPoints  float64 `json:"total_points"`
	EarnedPoints float64 `json:"earned_points"`
	Score        int     `json:"score"`
	Items        []Item  `json:"items"`
}

// Score returns the percentage score (0..100) for answers against questions.
func Score(questions []model.Question, answers model.Answers) int {
	return Grade(questions, answers).Score
}

// Grade scores every question and returns the breakdown.
// It has no side effects; identical inputs always yield identical reports.
func Grade(questions []model.Question, answers model.Answers) Report {
	report := Report{Items: make([]Item, 0, len(questions))}

	for _, q := range questions {
		report.TotalPoints += q.Points

		item := Item{QuestionID: q.ID, Type: q.Type, Points: q.Points}
		ans, answered := answers[q.ID]

		switch {
		case !q.Type.AutoGradable():
			item.Outcome = OutcomeManual
		case !answered:
			item.Outcome = OutcomeUnanswered
		case matches(q, ans):
			item.Outcome = OutcomeCorrect
			item.Earned = q.Points
		default:
			item.Outcome = OutcomeIncorrect
		}

		report.EarnedPoints += item.Earned
		report.Items = append(report.Items, item)
	}

	report.Score = Percentage(report.EarnedPoints, report.TotalPoints)
	return report
}

// Percentage converts earned/total into an integer percentage rounded half-up.
// A zero or negative total yields 0.
func Percentage(earned, total float64) int {
	if total <= 0 {
		return 0
	}
	pct := math.Floor(earned/total*100 + 0.5)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return int(pct)
}

// matches compares a stored answer with the question's correct answer.
func matches(q model.Question, ans model.Answer) bool {
	if q.CorrectAnswer == nil {
		return false
	}
	correct := *q.CorrectAnswer

	if ans.IsList() != correct.IsList() {
		return false
	}

	if ans.IsList() {
		return sameSet(ans.Values(), correct.Values(), q.Type == model.QuestionTypeFillInBlank)
	}

	if q.Type == model.QuestionTypeFillInBlank {
		return strings.ToLower(ans.Text()) == strings.ToLower(correct.Text())
	}
	return ans.Text() == correct.Text()
}

// sameSet reports whether got has the same length as want and contains every element of want.
func sameSet(got, want []string, foldCase bool) bool {
	if len(got) != len(want) {
		return false
	}

	seen := make(map[string]struct{}, len(got))
	for _, g := range got {
		if foldCase {
			g = strings.ToLower(g)
		}
		seen[g] = struct{}{}
	}
	for _, w := range want {
		if foldCase {
			w = strings.ToLower(w)
		}
		if _, ok := seen[w]; !ok {
			return false
		}
	}
	return true
}
