package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examily/examily-backend/internal/model"
	"github.com/examily/examily-backend/internal/scoring"
)

func ptr[T any](v T) *T { return &v }

func validRequest() *model.ExamRequest {
	return &model.ExamRequest{
		Title:            "  Cell Biology Midterm ",
		Description:      "Chapters one through four.",
		CourseCode:       "bio101",
		TimeLimitMinutes: 45,
		Questions: []model.QuestionRequest{
			{Type: "multiple-choice", Text: "Powerhouse of the cell?", Options: []string{"Nucleus", "Mitochondria", "Ribosome"}, CorrectAnswer: ptr(model.TextAnswer("1")), Points: 2},
			{Type: "true-false", Text: "DNA is single stranded.", CorrectAnswer: ptr(model.TextAnswer("1")), Points: 1},
			{Type: "short-answer", Text: "Name one organelle.", Options: []string{"ignored"}, Points: 1},
		},
	}
}

func TestNewExam_NormalisesAndAssignsIDs(t *testing.T) {
	author := uuid.New()

	exam, err := NewExam(validRequest(), author)
	require.NoError(t, err)

	assert.Equal(t, "Cell Biology Midterm", exam.Title)
	assert.Equal(t, "BIO101", exam.CourseCode)
	assert.Equal(t, author, exam.CreatedBy)
	require.Len(t, exam.Questions, 3)

	for _, q := range exam.Questions {
		assert.NotEmpty(t, q.ID)
	}
	assert.NotEqual(t, exam.Questions[0].ID, exam.Questions[1].ID)
	assert.Equal(t, []string{"True", "False"}, exam.Questions[1].Options)
	assert.Nil(t, exam.Questions[2].Options)
}

func TestBuildQuestions_KeepsExistingIDs(t *testing.T) {
	qs, err := BuildQuestions([]model.QuestionRequest{
		{ID: "q-7", Type: "long-answer", Text: "Discuss.", Points: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, "q-7", qs[0].ID)
}

func TestBuildQuestions_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		q     model.QuestionRequest
		field string
	}{
		{
			name:  "too few options",
			q:     model.QuestionRequest{Type: "multiple-choice", Text: "Q", Options: []string{"only"}, CorrectAnswer: ptr(model.TextAnswer("0")), Points: 1},
			field: "questions[0].options",
		},
		{
			name:  "too many options",
			q:     model.QuestionRequest{Type: "multiple-choice", Text: "Q", Options: []string{"a", "b", "c", "d", "e", "f"}, CorrectAnswer: ptr(model.TextAnswer("0")), Points: 1},
			field: "questions[0].options",
		},
		{
			name:  "blank option",
			q:     model.QuestionRequest{Type: "multiple-choice", Text: "Q", Options: []string{"a", "  "}, CorrectAnswer: ptr(model.TextAnswer("0")), Points: 1},
			field: "questions[0].options",
		},
		{
			name:  "missing correct answer",
			q:     model.QuestionRequest{Type: "multiple-choice", Text: "Q", Options: []string{"a", "b"}, Points: 1},
			field: "questions[0].correct_answer",
		},
		{
			name:  "correct answer out of range",
			q:     model.QuestionRequest{Type: "multiple-choice", Text: "Q", Options: []string{"a", "b"}, CorrectAnswer: ptr(model.TextAnswer("2")), Points: 1},
			field: "questions[0].correct_answer",
		},
		{
			name:  "true-false answer not an index",
			q:     model.QuestionRequest{Type: "true-false", Text: "Q", CorrectAnswer: ptr(model.TextAnswer("True")), Points: 1},
			field: "questions[0].correct_answer",
		},
		{
			name:  "blank text",
			q:     model.QuestionRequest{Type: "short-answer", Text: "   ", Points: 1},
			field: "questions[0].text",
		},
		{
			name:  "zero points",
			q:     model.QuestionRequest{Type: "short-answer", Text: "Q", Points: 0},
			field: "questions[0].points",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildQuestions([]model.QuestionRequest{tt.q})

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestBuildQuestions_DuplicateIDs(t *testing.T) {
	_, err := BuildQuestions([]model.QuestionRequest{
		{ID: "q1", Type: "short-answer", Text: "A", Points: 1},
		{ID: "q1", Type: "short-answer", Text: "B", Points: 1},
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "questions[1].id")
}

func TestBuildResult_Breakdown(t *testing.T) {
	exam, err := NewExam(validRequest(), uuid.New())
	require.NoError(t, err)
	exam.ID = uuid.New()

	started := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	submitted := started.Add(17*time.Minute + 30*time.Second)
	a := &model.ExamAttempt{
		ID:        uuid.New(),
		ExamID:    exam.ID,
		StudentID: uuid.New(),
		Answers: model.Answers{
			exam.Questions[0].ID: model.TextAnswer("1"),
			exam.Questions[2].ID: model.TextAnswer("Golgi"),
		},
		StartedAt:   started,
		SubmittedAt: &submitted,
		Score:       ptr(50),
		Completed:   true,
	}

	res := BuildResult(exam, a)

	assert.Equal(t, int64(1050), res.DurationSeconds)
	assert.Equal(t, 50, *res.Score)
	assert.InDelta(t, 2.0, res.EarnedPoints, 1e-9)
	assert.InDelta(t, 4.0, res.TotalPoints, 1e-9)
	require.Len(t, res.Items, 3)

	mc := res.Items[0]
	assert.Equal(t, scoring.OutcomeCorrect, mc.Outcome)
	assert.True(t, mc.AutoGraded)
	require.NotNil(t, mc.CorrectAnswer)
	assert.Equal(t, "1", mc.CorrectAnswer.Text())

	tf := res.Items[1]
	assert.Equal(t, scoring.OutcomeUnanswered, tf.Outcome)
	assert.Nil(t, tf.StudentAnswer)

	short := res.Items[2]
	assert.Equal(t, scoring.OutcomeManual, short.Outcome)
	assert.False(t, short.AutoGraded)
	assert.Nil(t, short.CorrectAnswer)
	require.NotNil(t, short.StudentAnswer)
	assert.Equal(t, "Golgi", short.StudentAnswer.Text())
}

func TestSplitAttempts(t *testing.T) {
	d := SplitAttempts([]model.AttemptSummary{
		{ID: uuid.New(), Completed: true, Score: ptr(80)},
		{ID: uuid.New()},
		{ID: uuid.New(), Completed: true, Score: ptr(65)},
	})

	assert.Len(t, d.InProgress, 1)
	assert.Len(t, d.Completed, 2)
	require.NotNil(t, d.AverageScore)
	assert.InDelta(t, 72.5, *d.AverageScore, 1e-9)

	empty := SplitAttempts(nil)
	assert.Empty(t, empty.Completed)
	assert.Nil(t, empty.AverageScore)
}
