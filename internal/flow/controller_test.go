package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/AltTutor/internal/content"
	"github.com/BTreeMap/AltTutor/internal/models"
	"github.com/BTreeMap/AltTutor/internal/store"
)

type outbound struct {
	method  string
	text    string
	options []models.Option
}

// recordingReplier captures outbound messages.
type recordingReplier struct {
	mu   sync.Mutex
	msgs []outbound
	err  error // returned after recording, simulates a failing transport
}

func (r *recordingReplier) record(method, text string, options []models.Option) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, outbound{method: method, text: text, options: options})
	return r.err
}

func (r *recordingReplier) SendText(ctx context.Context, userID, text string) error {
	return r.record("send", text, nil)
}

func (r *recordingReplier) SendTextWithOptions(ctx context.Context, userID, text string, options []models.Option) error {
	return r.record("send", text, options)
}

func (r *recordingReplier) EditLastMessage(ctx context.Context, userID, text string, options []models.Option) error {
	return r.record("edit", text, options)
}

func (r *recordingReplier) reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}

func (r *recordingReplier) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.text
	}
	return out
}

func (r *recordingReplier) last() outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return outbound{}
	}
	return r.msgs[len(r.msgs)-1]
}

type stubAnswerer struct {
	reply string
	err   error
	calls []string
}

func (a *stubAnswerer) Answer(ctx context.Context, question string) (string, error) {
	a.calls = append(a.calls, question)
	return a.reply, a.err
}

type harness struct {
	ctrl     *Controller
	store    *store.InMemoryStore
	sessions *MemorySessionStore
	out      *recordingReplier
	answerer *stubAnswerer
}

func testCatalog() *content.Catalog {
	five := make([]content.Question, 5)
	for i := range five {
		five[i] = content.Question{Prompt: "Q", Options: []string{"no", "yes"}, CorrectOption: 1}
	}
	return content.NewCatalog([]content.Module{
		{
			ID:    "m1",
			Title: "Nutrition",
			Lessons: []content.Lesson{
				{ID: "l1", Title: "Carbs", Content: "Carbs raise glucose.", Questions: []content.Question{
					{Prompt: "Pick c", Options: []string{"a", "b", "c"}, CorrectOption: 2},
				}},
				{ID: "l5", Title: "Five", Content: "Five questions.", Questions: five},
				{ID: "l0", Title: "Reading", Content: "No quiz here."},
			},
		},
		{ID: "m2", Title: "Empty module"},
	})
}

// failingStore wraps InMemoryStore and fails the selected writes.
type failingStore struct {
	*store.InMemoryStore
	failPoints, failBadge, failProgress, failDialogue bool
}

var errStoreDown = errors.New("database is locked")

func (f *failingStore) AddPoints(ctx context.Context, userID string, delta int) (int, error) {
	if f.failPoints {
		return 0, errStoreDown
	}
	return f.InMemoryStore.AddPoints(ctx, userID, delta)
}

func (f *failingStore) AwardBadge(ctx context.Context, userID, badge string) (bool, error) {
	if f.failBadge {
		return false, errStoreDown
	}
	return f.InMemoryStore.AwardBadge(ctx, userID, badge)
}

func (f *failingStore) MarkLessonCompleted(ctx context.Context, userID, moduleID, lessonID string) error {
	if f.failProgress {
		return errStoreDown
	}
	return f.InMemoryStore.MarkLessonCompleted(ctx, userID, moduleID, lessonID)
}

func (f *failingStore) AppendDialogue(ctx context.Context, entry models.DialogueEntry) error {
	if f.failDialogue {
		return errStoreDown
	}
	return f.InMemoryStore.AppendDialogue(ctx, entry)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewInMemoryStore()
	return newHarnessWithStores(t, st, st, st)
}

// newHarnessWithStores builds a harness whose controller uses profiles and dialogues while
// assertions read from mem.
func newHarnessWithStores(t *testing.T, mem *store.InMemoryStore, profiles store.ProfileStore, dialogues store.DialogueStore) *harness {
	t.Helper()
	h := &harness{
		store:    mem,
		sessions: NewMemorySessionStore(),
		out:      &recordingReplier{},
		answerer: &stubAnswerer{reply: "Normal fasting glucose is 4.0-5.9 mmol/L."},
	}
	ctrl, err := NewController(Dependencies{
		Catalog:   testCatalog(),
		Profiles:  profiles,
		Dialogues: dialogues,
		Sessions:  h.sessions,
		Answerer:  h.answerer,
		Replier:   h.out,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

const uid = "42"

func (h *harness) send(t *testing.T, kind models.EventKind, text string) {
	t.Helper()
	ev := models.Event{Kind: kind, UserID: uid}
	if kind == models.EventSelection {
		ev.Token = text
	} else {
		ev.Text = text
	}
	require.NoError(t, h.ctrl.HandleEvent(context.Background(), ev))
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), uid)
	if errors.Is(err, ErrSessionNotFound) {
		return StateNone
	}
	require.NoError(t, err)
	return s.State
}

func (h *harness) onboard(t *testing.T, name, level string) {
	t.Helper()
	h.send(t, models.EventStart, "/start")
	h.send(t, models.EventText, name)
	h.send(t, models.EventText, "1")
	h.send(t, models.EventText, level)
}

func (h *harness) points(t *testing.T) int {
	t.Helper()
	p, err := h.store.GetProfile(context.Background(), uid)
	require.NoError(t, err)
	return p.Points
}

func TestOnboarding(t *testing.T) {
	h := newHarness(t)
	h.send(t, models.EventStart, "/start")
	assert.Equal(t, StateAskName, h.state(t))
	assert.Equal(t, msgWelcome, h.out.last().text)

	h.send(t, models.EventText, "Ana")
	assert.Equal(t, StateAskDiabetesType, h.state(t))
	assert.Contains(t, h.out.last().text, "Nice to meet you, Ana!")

	h.send(t, models.EventText, "3")
	assert.Equal(t, StateAskDiabetesType, h.state(t))
	assert.Equal(t, msgInvalidDiabetesType, h.out.last().text)

	h.send(t, models.EventText, "2")
	assert.Equal(t, StateAskKnowledgeLevel, h.state(t))

	h.send(t, models.EventText, "7")
	assert.Equal(t, StateAskKnowledgeLevel, h.state(t))
	assert.Equal(t, msgInvalidKnowledge, h.out.last().text)

	h.send(t, models.EventText, "4")
	assert.Equal(t, StateMainMenu, h.state(t))
	menu := h.out.last()
	assert.Equal(t, msgChooseModule, menu.text)
	require.Len(t, menu.options, 2)
	assert.Equal(t, models.ModuleToken("m1"), menu.options[0].Token)

	p, err := h.store.GetProfile(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.Name)
	assert.Equal(t, models.DiabetesType2, p.DiabetesType)
	assert.Equal(t, 4, p.KnowledgeLevel)
	assert.Equal(t, 0, p.Points)
	assert.Empty(t, h.answerer.calls, "onboarding answers never reach the answering service")
}

func TestOnboardingTwiceKeepsPoints(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	_, err := h.store.AddPoints(context.Background(), uid, 30)
	require.NoError(t, err)

	h.onboard(t, "Ana B", "5")
	p, err := h.store.GetProfile(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 30, p.Points)
	assert.Equal(t, "Ana B", p.Name)
	assert.Equal(t, 5, p.KnowledgeLevel)
}

func TestModuleAndLessonNavigation(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")

	h.send(t, models.EventSelection, models.ModuleToken("m1"))
	assert.Equal(t, StateSelectLesson, h.state(t))
	lessons := h.out.last()
	assert.Equal(t, "edit", lessons.method)
	assert.Equal(t, "Module: Nutrition\nChoose a lesson:", lessons.text)
	require.Len(t, lessons.options, 3)
	assert.Equal(t, models.LessonToken("l1"), lessons.options[0].Token)

	h.out.reset()
	h.send(t, models.EventSelection, models.LessonToken("l1"))
	assert.Equal(t, StateShowLesson, h.state(t))
	texts := h.out.texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Carbs raise glucose.")
	last := h.out.last()
	assert.Equal(t, msgReadyForQuiz, last.text)
	assert.Equal(t, []models.Option{{Label: msgNextLabel, Token: models.TokenQuizStart}}, last.options)
}

func TestUnknownModuleReturnsToMenu(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	h.out.reset()

	err := h.ctrl.HandleEvent(context.Background(), models.Event{Kind: models.EventSelection, UserID: uid, Token: models.ModuleToken("nope")})
	require.NoError(t, err)
	assert.Equal(t, StateMainMenu, h.state(t))
	texts := h.out.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, msgModuleNotFound, texts[0])
	assert.Equal(t, msgChooseModule, texts[1])
}

func TestUnknownLessonReturnsToMenu(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	h.send(t, models.EventSelection, models.ModuleToken("m1"))
	h.out.reset()

	h.send(t, models.EventSelection, models.LessonToken("ghost"))
	assert.Equal(t, StateMainMenu, h.state(t))
	assert.Equal(t, msgLessonNotFound, h.out.texts()[0])
}

func TestMalformedTokenReturnsToMenu(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	h.send(t, models.EventSelection, "bogus")
	assert.Equal(t, StateMainMenu, h.state(t))
	assert.Equal(t, msgChooseModule, h.out.last().text)
}

func TestEmptyModuleReturnsToMenu(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	h.send(t, models.EventSelection, models.ModuleToken("m2"))
	assert.Equal(t, StateMainMenu, h.state(t))
}

func TestZeroQuestionLessonNeverEntersQuiz(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	h.send(t, models.EventSelection, models.ModuleToken("m1"))
	h.send(t, models.EventSelection, models.LessonToken("l0"))
	h.out.reset()

	h.send(t, models.EventSelection, models.TokenQuizStart)
	assert.Equal(t, StateSelectModule, h.state(t))
	texts := h.out.texts()
	assert.Equal(t, msgNoQuestions, texts[0])
	assert.Equal(t, msgChooseModule, texts[len(texts)-1])

	s, err := h.sessions.Get(context.Background(), uid)
	require.NoError(t, err)
	assert.Nil(t, s.Quiz)
}

func startLesson(t *testing.T, h *harness, lessonID string) {
	t.Helper()
	h.send(t, models.EventSelection, models.ModuleToken("m1"))
	h.send(t, models.EventSelection, models.LessonToken(lessonID))
	h.send(t, models.EventSelection, models.TokenQuizStart)
	require.Equal(t, StateAskQuiz, h.state(t))
}

func TestAnswerIndexTwoIsCorrect(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	startLesson(t, h, "l1")

	question := h.out.last()
	assert.Equal(t, "Question: Pick c\n\n1. a\n2. b\n3. c", question.text)
	require.Len(t, question.options, 3)

	h.out.reset()
	h.send(t, models.EventSelection, models.AnswerToken(2))
	texts := h.out.texts()
	assert.Equal(t, msgCorrect, texts[0])
	assert.Contains(t, texts, "Great result! 1/1 (100%). +5 points.")
	assert.Contains(t, texts, msgReturningToMenu)
	assert.Equal(t, StateSelectModule, h.state(t))
	assert.Equal(t, 5, h.points(t))
}

func TestFourOfFiveIsPositiveAndTwentyPoints(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	startLesson(t, h, "l5")

	for i := 0; i < 5; i++ {
		answer := 1
		if i == 2 {
			answer = 0
		}
		h.send(t, models.EventSelection, models.AnswerToken(answer))
	}
	texts := h.out.texts()
	assert.Contains(t, texts, "Incorrect. The correct answer is: yes")
	assert.Contains(t, texts, "Great result! 4/5 (80%). +20 points.")
	assert.Equal(t, 20, h.points(t))

	done, err := h.store.ListCompletedLessons(context.Background(), uid)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "l5", done[0].LessonID)

	h.send(t, models.EventSelection, models.ModuleToken("m1"))
	lessons := h.out.last()
	assert.Equal(t, msgCompletedMark+"Five", lessons.options[1].Label)
	assert.Equal(t, "Carbs", lessons.options[0].Label)
}

func TestLowScoreSummary(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	startLesson(t, h, "l1")
	h.send(t, models.EventSelection, models.AnswerToken(0))
	assert.Contains(t, h.out.texts(), "Result 0/1 (0%). Worth reviewing this lesson. +0 points.")
	assert.Equal(t, 0, h.points(t))
}

func TestTopLearnerAwardedOnce(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	_, err := h.store.AddPoints(context.Background(), uid, 45)
	require.NoError(t, err)

	startLesson(t, h, "l1")
	h.send(t, models.EventSelection, models.AnswerToken(2))
	badgeMsg := "You earned the 'top learner' badge!"
	assert.Contains(t, h.out.texts(), badgeMsg)
	assert.Equal(t, 50, h.points(t))

	h.out.reset()
	startLesson(t, h, "l1")
	h.send(t, models.EventSelection, models.AnswerToken(2))
	assert.NotContains(t, h.out.texts(), badgeMsg)

	badges, err := h.store.ListBadges(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, []string{models.BadgeTopLearner}, badges)
}

func TestTextDuringQuizRepresentsQuestion(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	startLesson(t, h, "l1")

	h.send(t, models.EventText, "what?")
	assert.Empty(t, h.answerer.calls)
	assert.True(t, strings.HasPrefix(h.out.last().text, msgChooseAnswer))
	assert.Equal(t, StateAskQuiz, h.state(t))
}

func TestOutOfRangeAnswerReturnsToMenu(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	startLesson(t, h, "l1")
	h.out.reset()

	h.send(t, models.EventSelection, models.AnswerToken(9))
	assert.Equal(t, StateMainMenu, h.state(t))
	texts := h.out.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, msgAnswerNotFound, texts[0])
	assert.Equal(t, msgChooseModule, texts[1])

	s, err := h.sessions.Get(context.Background(), uid)
	require.NoError(t, err)
	assert.Nil(t, s.Quiz)
	assert.Equal(t, 0, h.points(t))
}

func TestAnswerAfterQuizEndedReturnsToMenu(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	startLesson(t, h, "l1")
	h.send(t, models.EventSelection, models.AnswerToken(2))
	require.Equal(t, StateSelectModule, h.state(t))
	h.out.reset()

	h.send(t, models.EventSelection, models.AnswerToken(1))
	assert.Equal(t, StateMainMenu, h.state(t))
	texts := h.out.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, msgAnswerNotFound, texts[0])
	assert.Equal(t, msgChooseModule, texts[1])
	assert.Equal(t, 5, h.points(t), "a repeated answer earns nothing")
}

func TestQuizSummaryShownWhenStoreWritesFail(t *testing.T) {
	mem := store.NewInMemoryStore()
	fs := &failingStore{InMemoryStore: mem, failPoints: true, failProgress: true}
	h := newHarnessWithStores(t, mem, fs, fs)
	h.onboard(t, "Ana", "3")
	startLesson(t, h, "l1")
	h.out.reset()

	h.send(t, models.EventSelection, models.AnswerToken(2))
	assert.Equal(t, []string{
		msgCorrect,
		"Great result! 1/1 (100%). +5 points.",
		msgReturningToMenu,
		msgChooseModule,
	}, h.out.texts())
	assert.Equal(t, StateSelectModule, h.state(t))
	assert.Equal(t, 0, h.points(t))

	done, err := mem.ListCompletedLessons(context.Background(), uid)
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestQuizSummaryShownWhenBadgeWriteFails(t *testing.T) {
	mem := store.NewInMemoryStore()
	fs := &failingStore{InMemoryStore: mem, failBadge: true}
	h := newHarnessWithStores(t, mem, fs, fs)
	h.onboard(t, "Ana", "3")
	_, err := mem.AddPoints(context.Background(), uid, 45)
	require.NoError(t, err)
	startLesson(t, h, "l1")
	h.out.reset()

	h.send(t, models.EventSelection, models.AnswerToken(2))
	assert.Equal(t, []string{
		msgCorrect,
		"Great result! 1/1 (100%). +5 points.",
		msgReturningToMenu,
		msgChooseModule,
	}, h.out.texts())
	assert.Equal(t, 50, h.points(t))
	badges, err := mem.ListBadges(context.Background(), uid)
	require.NoError(t, err)
	assert.Empty(t, badges)
}

func TestDialogueLogFailureStillAnswers(t *testing.T) {
	mem := store.NewInMemoryStore()
	fs := &failingStore{InMemoryStore: mem, failDialogue: true}
	h := newHarnessWithStores(t, mem, fs, fs)

	h.send(t, models.EventText, "Can I eat fruit?")
	assert.Equal(t, h.answerer.reply, h.out.last().text)
	entries, err := mem.ListDialogues(context.Background(), uid, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWhitespaceTextAsksForQuestion(t *testing.T) {
	h := newHarness(t)
	h.send(t, models.EventText, "   ")
	assert.Equal(t, msgEmptyQuestion, h.out.last().text)
	assert.Empty(t, h.answerer.calls)
	entries, err := h.store.ListDialogues(context.Background(), uid, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReplyLoggedWhenDeliveryFails(t *testing.T) {
	h := newHarness(t)
	h.out.err = errors.New("transport down")

	err := h.ctrl.HandleEvent(context.Background(), models.Event{Kind: models.EventText, UserID: uid, Text: "Is rice ok?"})
	require.Error(t, err)
	entries, err := h.store.ListDialogues(context.Background(), uid, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.RoleUser, entries[0].Role)
	assert.Equal(t, models.RoleAssistant, entries[1].Role)
	assert.Equal(t, h.answerer.reply, entries[1].Message)
}

func TestFreeTextGoesToAnsweringService(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	h.send(t, models.EventText, "What is a normal glucose level?")

	require.Equal(t, []string{"What is a normal glucose level?"}, h.answerer.calls)
	assert.Equal(t, h.answerer.reply, h.out.last().text)
	entries, err := h.store.ListDialogues(context.Background(), uid, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.RoleUser, entries[0].Role)
	assert.Equal(t, models.RoleAssistant, entries[1].Role)
	assert.Equal(t, StateMainMenu, h.state(t))
}

func TestFreeTextWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.send(t, models.EventText, "hello")
	assert.Len(t, h.answerer.calls, 1)
	assert.Equal(t, StateNone, h.state(t))
}

func TestAnsweringServiceFailure(t *testing.T) {
	h := newHarness(t)
	h.answerer.err = errors.New("rate limited")
	h.send(t, models.EventText, "question")

	assert.Equal(t, MsgApology, h.out.last().text)
	entries, err := h.store.ListDialogues(context.Background(), uid, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.RoleUser, entries[0].Role)
}

func TestNoAnsweringService(t *testing.T) {
	h := newHarness(t)
	h.ctrl.answerer = nil
	h.send(t, models.EventText, "question")
	assert.Equal(t, MsgApology, h.out.last().text)
}

func TestUnknownCommandKeepsState(t *testing.T) {
	h := newHarness(t)
	h.send(t, models.EventStart, "/start")
	h.send(t, models.EventUnknownCommand, "/foo")
	assert.Equal(t, msgUnknownCommand, h.out.last().text)
	assert.Equal(t, StateAskName, h.state(t))
}

func TestHelpShowsMenu(t *testing.T) {
	h := newHarness(t)
	h.send(t, models.EventHelp, "/help")
	assert.Equal(t, msgChooseModule, h.out.last().text)
	assert.Equal(t, StateMainMenu, h.state(t))
}

func TestStopEndsSession(t *testing.T) {
	h := newHarness(t)
	h.onboard(t, "Ana", "3")
	startLesson(t, h, "l1")
	h.send(t, models.EventStop, "/stop")
	assert.Equal(t, msgSessionEnded, h.out.last().text)
	assert.Equal(t, StateNone, h.state(t))
}

func TestSelectionDuringOnboardingKeepsState(t *testing.T) {
	h := newHarness(t)
	h.send(t, models.EventStart, "/start")
	h.send(t, models.EventSelection, models.AnswerToken(0))
	assert.Equal(t, msgStaleSelection, h.out.last().text)
	assert.Equal(t, StateAskName, h.state(t))
}

func TestSelectionAfterRestartStartsFromMenu(t *testing.T) {
	h := newHarness(t)
	h.send(t, models.EventSelection, models.ModuleToken("m1"))
	assert.Equal(t, StateSelectLesson, h.state(t))
}

func TestEmptyCatalog(t *testing.T) {
	out := &recordingReplier{}
	st := store.NewInMemoryStore()
	ctrl, err := NewController(Dependencies{Profiles: st, Dialogues: st, Replier: out})
	require.NoError(t, err)
	require.NoError(t, ctrl.HandleEvent(context.Background(), models.Event{Kind: models.EventHelp, UserID: uid}))
	assert.Equal(t, msgNoModules, out.last().text)
}

func TestNewControllerValidation(t *testing.T) {
	_, err := NewController(Dependencies{})
	assert.Error(t, err)
	st := store.NewInMemoryStore()
	_, err = NewController(Dependencies{Profiles: st, Dialogues: st})
	assert.Error(t, err)
}

func TestHandleEventRequiresUser(t *testing.T) {
	h := newHarness(t)
	err := h.ctrl.HandleEvent(context.Background(), models.Event{Kind: models.EventStart})
	assert.ErrorIs(t, err, models.ErrEmptyUserID)
}
