package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/AltTutor/internal/content"
	"github.com/BTreeMap/AltTutor/internal/models"
	"github.com/BTreeMap/AltTutor/internal/store"
)

// Replier delivers outbound messages to a user.
type Replier interface {
	SendText(ctx context.Context, userID, text string) error
	SendTextWithOptions(ctx context.Context, userID, text string, options []models.Option) error
	// EditLastMessage replaces the message that carried the last tapped option. Transports that
	// cannot edit send a new message instead.
	EditLastMessage(ctx context.Context, userID, text string, options []models.Option) error
}

// Answerer produces a reply to free text outside the lesson flow.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Dependencies holds everything the Controller needs.
type Dependencies struct {
	Catalog   *content.Catalog
	Profiles  store.ProfileStore
	Dialogues store.DialogueStore
	Sessions  SessionStore
	Answerer  Answerer // nil disables free-text answers
	Replier   Replier
}

// Controller drives the conversation of every user. Callers must not run two events of the
// same user concurrently.
type Controller struct {
	catalog   *content.Catalog
	profiles  store.ProfileStore
	dialogues store.DialogueStore
	sessions  SessionStore
	answerer  Answerer
	out       Replier
}

// NewController validates deps and builds a Controller.
func NewController(deps Dependencies) (*Controller, error) {
	if deps.Profiles == nil || deps.Dialogues == nil {
		return nil, errors.New("flow: profile and dialogue stores are required")
	}
	if deps.Replier == nil {
		return nil, errors.New("flow: replier is required")
	}
	if deps.Catalog == nil {
		deps.Catalog = content.Empty()
	}
	if deps.Sessions == nil {
		deps.Sessions = NewMemorySessionStore()
	}
	return &Controller{
		catalog:   deps.Catalog,
		profiles:  deps.Profiles,
		dialogues: deps.Dialogues,
		sessions:  deps.Sessions,
		answerer:  deps.Answerer,
		out:       deps.Replier,
	}, nil
}

// HandleEvent processes one inbound event to completion. Only transport failures are returned;
// validation, lookup and store problems are answered in the conversation.
func (c *Controller) HandleEvent(ctx context.Context, ev models.Event) error {
	if ev.UserID == "" {
		return models.ErrEmptyUserID
	}
	slog.Debug("Controller HandleEvent", "userID", ev.UserID, "kind", ev.Kind)

	switch ev.Kind {
	case models.EventStart:
		return c.handleStart(ctx, ev.UserID)
	case models.EventStop:
		return c.handleStop(ctx, ev.UserID)
	case models.EventHelp:
		return c.handleHelp(ctx, ev.UserID)
	case models.EventUnknownCommand:
		slog.Warn("Controller unknown command", "userID", ev.UserID, "command", ev.Text)
		return c.out.SendText(ctx, ev.UserID, msgUnknownCommand)
	case models.EventText:
		return c.handleText(ctx, ev.UserID, ev.Text)
	case models.EventSelection:
		return c.handleSelection(ctx, ev.UserID, ev.Token)
	default:
		slog.Warn("Controller ignoring event of unknown kind", "userID", ev.UserID, "kind", ev.Kind)
		return nil
	}
}

// session loads the session of userID, or nil when there is none.
func (c *Controller) session(ctx context.Context, userID string) *Session {
	s, err := c.sessions.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			slog.Error("Controller session lookup failed", "error", err, "userID", userID)
		}
		return nil
	}
	return s
}

func (c *Controller) save(ctx context.Context, s *Session) {
	if err := c.sessions.Save(ctx, s); err != nil {
		slog.Error("Controller session save failed", "error", err, "userID", s.UserID, "sessionID", s.ID)
	}
}

func (c *Controller) transition(s *Session, next State) {
	if s.State != next {
		slog.Info("Controller state transition", "userID", s.UserID, "sessionID", s.ID, "from", s.State, "to", next)
	}
	s.State = next
}

func (c *Controller) handleStart(ctx context.Context, userID string) error {
	s := NewSession(userID, StateAskName)
	slog.Info("Controller session started", "userID", userID, "sessionID", s.ID)
	c.save(ctx, s)
	return c.out.SendText(ctx, userID, msgWelcome)
}

func (c *Controller) handleStop(ctx context.Context, userID string) error {
	if err := c.sessions.Delete(ctx, userID); err != nil {
		slog.Error("Controller session delete failed", "error", err, "userID", userID)
	}
	slog.Info("Controller session ended", "userID", userID)
	return c.out.SendText(ctx, userID, msgSessionEnded)
}

func (c *Controller) handleHelp(ctx context.Context, userID string) error {
	s := c.session(ctx, userID)
	if s == nil {
		s = NewSession(userID, StateMainMenu)
	}
	s.ClearQuiz()
	err := c.showMenu(ctx, s, StateMainMenu)
	c.save(ctx, s)
	return err
}

func (c *Controller) handleText(ctx context.Context, userID, text string) error {
	s := c.session(ctx, userID)
	if s == nil {
		return c.delegate(ctx, userID, text)
	}

	var err error
	switch s.State {
	case StateAskName:
		err = c.onName(ctx, s, text)
	case StateAskDiabetesType:
		err = c.onDiabetesType(ctx, s, text)
	case StateAskKnowledgeLevel:
		err = c.onKnowledgeLevel(ctx, s, text)
	case StateAskQuiz:
		if !s.QuizActive() {
			return c.delegate(ctx, userID, text)
		}
		err = c.presentQuestion(ctx, s, msgChooseAnswer)
	case StateNone, StateMainMenu, StateSelectModule, StateSelectLesson, StateShowLesson:
		return c.delegate(ctx, userID, text)
	default:
		slog.Warn("Controller text in unexpected state", "userID", userID, "state", s.State)
		return c.delegate(ctx, userID, text)
	}
	c.save(ctx, s)
	return err
}

func (c *Controller) onName(ctx context.Context, s *Session, text string) error {
	name := strings.TrimSpace(text)
	if name == "" {
		return c.out.SendText(ctx, s.UserID, msgAskNameAgain)
	}
	s.Name = name
	slog.Info("Controller name received", "userID", s.UserID, "sessionID", s.ID)
	c.transition(s, StateAskDiabetesType)
	return c.out.SendText(ctx, s.UserID, fmt.Sprintf(msgAskDiabetesTypeFmt, name))
}

func (c *Controller) onDiabetesType(ctx context.Context, s *Session, text string) error {
	t, err := models.ParseDiabetesType(text)
	if err != nil {
		slog.Warn("Controller invalid diabetes type", "userID", s.UserID, "input", text)
		return c.out.SendText(ctx, s.UserID, msgInvalidDiabetesType)
	}
	s.DiabetesType = t
	c.transition(s, StateAskKnowledgeLevel)
	return c.out.SendText(ctx, s.UserID, msgAskKnowledgeLevel)
}

func (c *Controller) onKnowledgeLevel(ctx context.Context, s *Session, text string) error {
	level, err := models.ParseKnowledgeLevel(text)
	if err != nil {
		slog.Warn("Controller invalid knowledge level", "userID", s.UserID, "input", text)
		return c.out.SendText(ctx, s.UserID, msgInvalidKnowledge)
	}
	profile := models.UserProfile{
		UserID:         s.UserID,
		Name:           s.Name,
		DiabetesType:   s.DiabetesType,
		KnowledgeLevel: level,
	}
	if err := c.profiles.UpsertProfile(ctx, profile); err != nil {
		slog.Error("Controller profile upsert failed", "error", err, "userID", s.UserID, "sessionID", s.ID)
	} else {
		slog.Info("Controller onboarding completed", "userID", s.UserID, "sessionID", s.ID, "profile", profile)
	}
	return c.showMenu(ctx, s, StateMainMenu)
}

// delegate forwards free text to the answering service and logs the exchange. The reply is
// logged as soon as the service produced it, even if delivery then fails.
func (c *Controller) delegate(ctx context.Context, userID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return c.out.SendText(ctx, userID, msgEmptyQuestion)
	}
	c.logDialogue(ctx, userID, models.RoleUser, text)

	if c.answerer == nil {
		slog.Warn("Controller answering service disabled", "userID", userID)
		return c.out.SendText(ctx, userID, MsgApology)
	}
	reply, err := c.answerer.Answer(ctx, text)
	if err != nil {
		slog.Error("Controller answering service failed", "error", err, "userID", userID)
		return c.out.SendText(ctx, userID, MsgApology)
	}
	c.logDialogue(ctx, userID, models.RoleAssistant, reply)
	return c.out.SendText(ctx, userID, reply)
}

func (c *Controller) logDialogue(ctx context.Context, userID string, role models.Role, text string) {
	entry := models.DialogueEntry{UserID: userID, Role: role, Message: text, Timestamp: time.Now()}
	if err := c.dialogues.AppendDialogue(ctx, entry); err != nil {
		slog.Error("Controller dialogue log failed", "error", err, "userID", userID, "role", role)
	}
}

func (c *Controller) handleSelection(ctx context.Context, userID, token string) error {
	s := c.session(ctx, userID)
	if s == nil {
		// Buttons outlive sessions; a restart lands the user in the menu context.
		s = NewSession(userID, StateMainMenu)
	}

	sel, err := models.ParseSelection(token)
	if err != nil {
		slog.Warn("Controller lookup failed", "reason", "malformed_token", "error", err, "userID", userID, "sessionID", s.ID)
		err = c.notFound(ctx, s, msgStaleSelection)
		c.save(ctx, s)
		return err
	}

	if !acceptsSelection(s, sel.Kind) {
		if sel.Kind == models.SelectionAnswer && !s.State.Onboarding() {
			// An answer button from a finished or abandoned quiz.
			c.logLookupFailure(s, ErrNoActiveQuiz, "answer", sel.Answer)
			err = c.notFound(ctx, s, msgAnswerNotFound)
			c.save(ctx, s)
			return err
		}
		slog.Warn("Controller stale selection", "userID", userID, "sessionID", s.ID, "state", s.State, "token", token)
		return c.out.SendText(ctx, userID, msgStaleSelection)
	}

	switch sel.Kind {
	case models.SelectionModule:
		err = c.onModule(ctx, s, sel.ID)
	case models.SelectionLesson:
		err = c.onLesson(ctx, s, sel.ID)
	case models.SelectionQuizStart:
		err = c.onQuizStart(ctx, s)
	case models.SelectionAnswer:
		err = c.onAnswer(ctx, s, sel.Answer)
	case models.SelectionInvalid:
		err = c.out.SendText(ctx, userID, msgStaleSelection)
	}
	c.save(ctx, s)
	return err
}

// acceptsSelection reports whether a selection kind is meaningful in the session state.
func acceptsSelection(s *Session, kind models.SelectionKind) bool {
	switch kind {
	case models.SelectionModule:
		switch s.State {
		case StateMainMenu, StateSelectModule, StateSelectLesson, StateShowLesson:
			return true
		}
	case models.SelectionLesson:
		return s.State == StateSelectLesson || s.State == StateShowLesson
	case models.SelectionQuizStart:
		return s.State == StateShowLesson
	case models.SelectionAnswer:
		return s.QuizActive()
	case models.SelectionInvalid:
		return false
	}
	return false
}

func (c *Controller) onModule(ctx context.Context, s *Session, moduleID string) error {
	m, err := c.catalog.Module(moduleID)
	if err != nil {
		c.logLookupFailure(s, err, "moduleID", moduleID)
		return c.notFound(ctx, s, msgModuleNotFound)
	}
	s.ModuleID = m.ID
	s.LessonID = ""
	slog.Info("Controller module selected", "userID", s.UserID, "sessionID", s.ID, "moduleID", m.ID)

	if len(m.Lessons) == 0 {
		return c.notFound(ctx, s, msgModuleEmpty)
	}

	completed := c.completedLessons(ctx, s.UserID, m.ID)
	options := make([]models.Option, 0, len(m.Lessons))
	for _, l := range m.Lessons {
		label := l.Title
		if completed[l.ID] {
			label = msgCompletedMark + label
		}
		options = append(options, models.Option{Label: label, Token: models.LessonToken(l.ID)})
	}
	c.transition(s, StateSelectLesson)
	return c.out.EditLastMessage(ctx, s.UserID, fmt.Sprintf(msgModuleLessonsFmt, m.Title), options)
}

func (c *Controller) completedLessons(ctx context.Context, userID, moduleID string) map[string]bool {
	done := make(map[string]bool)
	progress, err := c.profiles.ListCompletedLessons(ctx, userID)
	if err != nil {
		slog.Error("Controller progress lookup failed", "error", err, "userID", userID)
		return done
	}
	for _, p := range progress {
		if p.ModuleID == moduleID && p.Completed {
			done[p.LessonID] = true
		}
	}
	return done
}

func (c *Controller) onLesson(ctx context.Context, s *Session, lessonID string) error {
	lesson, err := c.catalog.Lesson(s.ModuleID, lessonID)
	if err != nil {
		c.logLookupFailure(s, err, "moduleID", s.ModuleID, "lessonID", lessonID)
		return c.notFound(ctx, s, notFoundText(err))
	}
	s.LessonID = lesson.ID
	slog.Info("Controller lesson selected", "userID", s.UserID, "sessionID", s.ID, "moduleID", s.ModuleID, "lessonID", lesson.ID)
	c.transition(s, StateShowLesson)

	if err := c.out.EditLastMessage(ctx, s.UserID, fmt.Sprintf(msgLessonFmt, lesson.Title, lesson.Content), nil); err != nil {
		return err
	}
	return c.out.SendTextWithOptions(ctx, s.UserID, msgReadyForQuiz, []models.Option{
		{Label: msgNextLabel, Token: models.TokenQuizStart},
	})
}

func (c *Controller) onQuizStart(ctx context.Context, s *Session) error {
	lesson, err := c.catalog.Lesson(s.ModuleID, s.LessonID)
	if err != nil {
		c.logLookupFailure(s, err, "moduleID", s.ModuleID, "lessonID", s.LessonID)
		return c.notFound(ctx, s, notFoundText(err))
	}
	quiz, err := StartQuiz(s.ModuleID, lesson)
	if err != nil {
		slog.Info("Controller lesson has no questions", "userID", s.UserID, "sessionID", s.ID, "lessonID", lesson.ID)
		if err := c.out.EditLastMessage(ctx, s.UserID, msgNoQuestions, nil); err != nil {
			return err
		}
		return c.showMenu(ctx, s, StateSelectModule)
	}
	s.Quiz = quiz
	slog.Info("Controller quiz started", "userID", s.UserID, "sessionID", s.ID, "lessonID", lesson.ID, "questions", len(quiz.Questions))
	c.transition(s, StateAskQuiz)
	return c.presentQuestion(ctx, s, "")
}

// presentQuestion sends the current question, optionally preceded by a note.
func (c *Controller) presentQuestion(ctx context.Context, s *Session, note string) error {
	text, options, err := s.Quiz.Present()
	if err != nil {
		slog.Warn("Controller quiz out of range", "userID", s.UserID, "sessionID", s.ID, "index", s.Quiz.Index)
		s.ClearQuiz()
		return c.notFound(ctx, s, msgQuizError)
	}
	if note != "" {
		text = note + "\n\n" + text
	}
	return c.out.SendTextWithOptions(ctx, s.UserID, text, options)
}

func (c *Controller) onAnswer(ctx context.Context, s *Session, selected int) error {
	res, err := s.Quiz.Submit(selected)
	switch {
	case errors.Is(err, ErrInvalidAnswer):
		c.logLookupFailure(s, err, "answer", selected)
		return c.notFound(ctx, s, msgAnswerNotFound)
	case err != nil:
		slog.Warn("Controller quiz out of range", "error", err, "userID", s.UserID, "sessionID", s.ID)
		s.ClearQuiz()
		return c.notFound(ctx, s, msgQuizError)
	}

	verdict := msgCorrect
	if !res.Correct {
		verdict = fmt.Sprintf(msgIncorrectFmt, res.CorrectText)
	}
	slog.Info("Controller answer graded", "userID", s.UserID, "sessionID", s.ID, "question", s.Quiz.Index, "correct", res.Correct)
	if err := c.out.EditLastMessage(ctx, s.UserID, verdict, nil); err != nil {
		return err
	}
	if !res.Finished {
		return c.presentQuestion(ctx, s, "")
	}
	return c.finishQuiz(ctx, s)
}

// finishQuiz persists the result, awards badges and returns to the module menu. Store failures
// are logged and the summary is still shown.
func (c *Controller) finishQuiz(ctx context.Context, s *Session) error {
	quiz := s.Quiz
	res := quiz.Finalize()
	slog.Info("Controller quiz finished", "userID", s.UserID, "sessionID", s.ID, "score", res.Score, "total", res.Total, "percent", res.Percent)

	var badge string
	total, err := c.profiles.AddPoints(ctx, s.UserID, res.PointsEarned)
	if err != nil {
		slog.Error("Controller points update failed", "error", err, "userID", s.UserID, "points", res.PointsEarned)
	} else if total >= models.TopLearnerThreshold {
		added, err := c.profiles.AwardBadge(ctx, s.UserID, models.BadgeTopLearner)
		if err != nil {
			slog.Error("Controller badge award failed", "error", err, "userID", s.UserID)
		} else if added {
			badge = models.BadgeTopLearner
		}
	}
	if err := c.profiles.MarkLessonCompleted(ctx, s.UserID, quiz.ModuleID, quiz.LessonID); err != nil {
		slog.Error("Controller progress update failed", "error", err, "userID", s.UserID, "lessonID", quiz.LessonID)
	}

	if badge != "" {
		if err := c.out.SendText(ctx, s.UserID, fmt.Sprintf(msgBadgeFmt, badge)); err != nil {
			return err
		}
	}
	summary := fmt.Sprintf(msgFailedFmt, res.Score, res.Total, res.Percent, res.PointsEarned)
	if res.Passed() {
		summary = fmt.Sprintf(msgPassedFmt, res.Score, res.Total, res.Percent, res.PointsEarned)
	}
	if err := c.out.SendText(ctx, s.UserID, summary); err != nil {
		return err
	}
	if err := c.out.SendText(ctx, s.UserID, msgReturningToMenu); err != nil {
		return err
	}
	s.ClearQuiz()
	return c.showMenu(ctx, s, StateSelectModule)
}

// showMenu sends the module list and moves the session to next.
func (c *Controller) showMenu(ctx context.Context, s *Session, next State) error {
	c.transition(s, next)
	modules := c.catalog.Modules()
	if len(modules) == 0 {
		return c.out.SendText(ctx, s.UserID, msgNoModules)
	}
	options := make([]models.Option, 0, len(modules))
	for _, m := range modules {
		options = append(options, models.Option{Label: m.Title, Token: models.ModuleToken(m.ID)})
	}
	return c.out.SendTextWithOptions(ctx, s.UserID, msgChooseModule, options)
}

// notFound tells the user and returns to MAIN_MENU.
func (c *Controller) notFound(ctx context.Context, s *Session, text string) error {
	s.ClearQuiz()
	if err := c.out.EditLastMessage(ctx, s.UserID, text, nil); err != nil {
		return err
	}
	return c.showMenu(ctx, s, StateMainMenu)
}

// logLookupFailure records a content reference that did not resolve.
func (c *Controller) logLookupFailure(s *Session, err error, attrs ...any) {
	args := append([]any{"reason", "content_missing", "error", err, "userID", s.UserID, "sessionID", s.ID, "state", s.State}, attrs...)
	slog.Warn("Controller lookup failed", args...)
}

func notFoundText(err error) string {
	if errors.Is(err, content.ErrModuleNotFound) {
		return msgModuleNotFound
	}
	return msgLessonNotFound
}
