package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidAnswer is returned when an answer is neither a string nor a list of strings.
var ErrInvalidAnswer = errors.New("answer must be a string or a list of strings")

// Answer holds either a single value or an ordered list of values.
// The zero value is an empty single answer.
type Answer struct {
	values []string
	list   bool
}

// TextAnswer returns a single-valued answer.
func TextAnswer(s string) Answer {
	return Answer{values: []string{s}}
}

// ListAnswer returns a list answer. The order is kept as given.
func ListAnswer(values ...string) Answer {
	cp := make([]string, len(values))
	copy(cp, values)
	return Answer{values: cp, list: true}
}

// IsList reports whether the answer is a list.
func (a Answer) IsList() bool { return a.list }

// Text returns the single value, or "" for list answers.
func (a Answer) Text() string {
	if a.list || len(a.values) == 0 {
		return ""
	}
	return a.values[0]
}

// Values returns a copy of the list values (or the single value as a one-element slice).
func (a Answer) Values() []string {
	if !a.list && len(a.values) == 0 {
		return []string{""}
	}
	cp := make([]string, len(a.values))
	copy(cp, a.values)
	return cp
}

// IsBlank reports whether the answer carries no content.
func (a Answer) IsBlank() bool {
	if a.list {
		return len(a.values) == 0
	}
	return a.Text() == ""
}

// Equal reports whether a and b are the same answer, including list order.
func (a Answer) Equal(b Answer) bool {
	if a.list != b.list {
		return false
	}
	if !a.list {
		return a.Text() == b.Text()
	}
	if len(a.values) != len(b.values) {
		return false
	}
	for i := range a.values {
		if a.values[i] != b.values[i] {
			return false
		}
	}
	return true
}

// String renders the answer for logs.
func (a Answer) String() string {
	if a.list {
		return "[" + strings.Join(a.values, ", ") + "]"
	}
	return a.Text()
}

// MarshalJSON encodes single answers as strings and lists as arrays.
func (a Answer) MarshalJSON() ([]byte, error) {
	if a.list {
		if a.values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.values)
	}
	return json.Marshal(a.Text())
}

// UnmarshalJSON accepts a JSON string or an array of strings.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Answer{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = TextAnswer(s)
		return nil
	case '[':
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return ErrInvalidAnswer
		}
		*a = ListAnswer(values...)
		return nil
	default:
		return ErrInvalidAnswer
	}
}

// Answers maps a question identifier to the student's current answer.
type Answers map[string]Answer

// Clone returns an independent copy of the mapping.
func (m Answers) Clone() Answers {
	out := make(Answers, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (a *Answer) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*a = TextAnswer(value.Value)
		return nil
	case yaml.SequenceNode:
		var values []string
		if err := value.Decode(&values); err != nil {
			return ErrInvalidAnswer
		}
		*a = ListAnswer(values...)
		return nil
	default:
		return ErrInvalidAnswer
	}
}
