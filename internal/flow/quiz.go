package flow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/AltTutor/internal/content"
	"github.com/BTreeMap/AltTutor/internal/models"
)

// Scoring constants.
const (
	// PointsPerCorrectAnswer is awarded for every correct answer.
	PointsPerCorrectAnswer = 5
	// PassPercent selects the positive summary.
	PassPercent = 80
)

var (
	// ErrNoQuestions is returned when a quiz is started on a lesson without questions.
	ErrNoQuestions = errors.New("lesson has no questions")
	// ErrQuizFinished is returned when answering after the last question.
	ErrQuizFinished = errors.New("quiz already finished")
	// ErrInvalidAnswer is returned for an answer index outside the options.
	ErrInvalidAnswer = errors.New("answer index out of range")
	// ErrNoActiveQuiz is reported for an answer that arrives with no quiz in progress.
	ErrNoActiveQuiz = errors.New("no quiz in progress")
)

// Quiz is the running state of a quiz over a snapshot of lesson questions.
type Quiz struct {
	ModuleID  string             `json:"module_id"`
	LessonID  string             `json:"lesson_id"`
	Questions []content.Question `json:"questions"`
	Index     int                `json:"index"`
	Score     int                `json:"score"`
}

// AnswerResult describes a graded answer.
type AnswerResult struct {
	Correct     bool
	CorrectText string
	Finished    bool
}

// QuizResult is the final tally of a quiz.
type QuizResult struct {
	Score        int
	Total        int
	Percent      float64
	PointsEarned int
}

// Passed reports whether the result earns the positive summary.
func (r QuizResult) Passed() bool {
	return r.Percent >= PassPercent
}

// StartQuiz snapshots the questions of lesson.
func StartQuiz(moduleID string, lesson content.Lesson) (*Quiz, error) {
	if len(lesson.Questions) == 0 {
		return nil, ErrNoQuestions
	}
	questions := make([]content.Question, len(lesson.Questions))
	copy(questions, lesson.Questions)
	return &Quiz{ModuleID: moduleID, LessonID: lesson.ID, Questions: questions}, nil
}

// Done reports whether every question has been answered.
func (q *Quiz) Done() bool {
	return q.Index >= len(q.Questions)
}

// Current returns the question awaiting an answer.
func (q *Quiz) Current() (content.Question, error) {
	if q.Done() {
		return content.Question{}, ErrQuizFinished
	}
	return q.Questions[q.Index], nil
}

// Present renders the current question with 1-based labels and one option per answer.
func (q *Quiz) Present() (string, []models.Option, error) {
	cur, err := q.Current()
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", cur.Prompt)
	opts := make([]models.Option, len(cur.Options))
	for i, o := range cur.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, o)
		opts[i] = models.Option{Label: strconv.Itoa(i + 1), Token: models.AnswerToken(i)}
	}
	return b.String(), opts, nil
}

// Submit grades the selected 0-based option and advances to the next question.
func (q *Quiz) Submit(selected int) (AnswerResult, error) {
	cur, err := q.Current()
	if err != nil {
		return AnswerResult{}, err
	}
	if selected < 0 || selected >= len(cur.Options) {
		return AnswerResult{}, ErrInvalidAnswer
	}
	res := AnswerResult{Correct: selected == cur.CorrectOption}
	if res.Correct {
		q.Score++
	} else {
		res.CorrectText = cur.CorrectText()
	}
	q.Index++
	res.Finished = q.Done()
	return res, nil
}

// Finalize computes the result. Points are score times PointsPerCorrectAnswer.
func (q *Quiz) Finalize() QuizResult {
	total := len(q.Questions)
	res := QuizResult{Score: q.Score, Total: total, PointsEarned: q.Score * PointsPerCorrectAnswer}
	if total > 0 {
		res.Percent = 100 * float64(q.Score) / float64(total)
	}
	return res
}
