package model

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple-choice"
	QuestionTypeShortAnswer    QuestionType = "short-answer"
	QuestionTypeLongAnswer     QuestionType = "long-answer"
	QuestionTypeTrueFalse      QuestionType = "true-false"
	QuestionTypeFillInBlank    QuestionType = "fill-in-blank"
)

// AutoGradable reports whether answers to this type can be scored without a human.
func (t QuestionType) AutoGradable() bool {
	switch t {
	case QuestionTypeMultipleChoice, QuestionTypeTrueFalse, QuestionTypeFillInBlank:
		return true
	default:
		return false
	}
}

// Question is a single exam question. Options and CorrectAnswer are only
// meaningful for the types that use them.
type Question struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	Text          string       `json:"text"`
	Image         string       `json:"image,omitempty"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer *Answer      `json:"correct_answer,omitempty"`
	Points        float64      `json:"points"`
}

// QuestionForStudent is a question without the correct answer.
type QuestionForStudent struct {
	ID      string       `json:"id"`
	Type    QuestionType `json:"type"`
	Text    string       `json:"text"`
	Image   string       `json:"image,omitempty"`
	Options []string     `json:"options,omitempty"`
	Points  float64      `json:"points"`
}

// ForStudent strips the correct answer.
func (q Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:      q.ID,
		Type:    q.Type,
		Text:    q.Text,
		Image:   q.Image,
		Options: q.Options,
		Points:  q.Points,
	}
}

// QuestionRequest is a question as submitted by a teacher.
type QuestionRequest struct {
	ID            string   `json:"id" yaml:"id" binding:"omitempty,max=64"`
	Type          string   `json:"type" yaml:"type" binding:"required,oneof=multiple-choice short-answer long-answer true-false fill-in-blank"`
	Text          string   `json:"text" yaml:"text" binding:"required,min=1,max=4000"`
	Image         string   `json:"image" yaml:"image" binding:"omitempty,max=2048"`
	Options       []string `json:"options" yaml:"options" binding:"omitempty,max=5"`
	CorrectAnswer *Answer  `json:"correct_answer" yaml:"correct_answer"`
	Points        float64  `json:"points" yaml:"points" binding:"required,min=1"`
}
