package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAnswer_JSONForms(t *testing.T) {
	var m Answers
	require.NoError(t, json.Unmarshal([]byte(`{"q1":"B","q2":["a","c"],"q3":"","q4":null}`), &m))

	assert.Equal(t, TextAnswer("B"), m["q1"])
	assert.True(t, m["q2"].IsList())
	assert.Equal(t, []string{"a", "c"}, m["q2"].Values())
	assert.True(t, m["q3"].IsBlank())
	assert.True(t, m["q4"].IsBlank())

	out, err := json.Marshal(Answers{"q1": TextAnswer("B"), "q2": ListAnswer()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"q1":"B","q2":[]}`, string(out))

	var bad Answer
	assert.ErrorIs(t, json.Unmarshal([]byte(`42`), &bad), ErrInvalidAnswer)
	assert.ErrorIs(t, json.Unmarshal([]byte(`[1,2]`), &bad), ErrInvalidAnswer)
}

func TestAnswer_Equal(t *testing.T) {
	assert.True(t, ListAnswer("a", "b").Equal(ListAnswer("a", "b")))
	assert.False(t, ListAnswer("a", "b").Equal(ListAnswer("b", "a")))
	assert.False(t, TextAnswer("a").Equal(ListAnswer("a")))
	assert.True(t, Answer{}.Equal(TextAnswer("")))
}

func TestExamRequest_YAML(t *testing.T) {
	doc := `
title: Algebra basics
description: Linear equations and inequalities.
course_code: MATH101
time_limit_minutes: 45
questions:
  - id: q1
    type: multiple-choice
    text: Solve x + 2 = 5
    options: ["1", "3", "5"]
    correct_answer: "1"
    points: 2
  - type: long-answer
    text: Explain your steps.
    points: 3
  - type: fill-in-blank
    text: Capital of France
    correct_answer: [paris]
    points: 1
`
	var req ExamRequest
	require.NoError(t, yaml.Unmarshal([]byte(doc), &req))

	require.Len(t, req.Questions, 3)
	assert.Equal(t, "MATH101", req.CourseCode)
	require.NotNil(t, req.Questions[0].CorrectAnswer)
	assert.Equal(t, TextAnswer("1"), *req.Questions[0].CorrectAnswer)
	assert.Nil(t, req.Questions[1].CorrectAnswer)
	assert.Equal(t, ListAnswer("paris"), *req.Questions[2].CorrectAnswer)
}

func TestExam_PaperHidesCorrectAnswers(t *testing.T) {
	correct := TextAnswer("0")
	exam := &Exam{
		Title: "Quiz",
		Questions: []Question{
			{ID: "q1", Type: QuestionTypeTrueFalse, Text: "Sky is blue", Options: []string{"True", "False"}, CorrectAnswer: &correct, Points: 1},
		},
	}

	out, err := json.Marshal(exam.Paper())
	require.NoError(t, err)
	assert.NotContains(t, string(out), "correct_answer")
	assert.Contains(t, string(out), `"options":["True","False"]`)
}
