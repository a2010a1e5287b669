package flow

// User-facing texts.
const (
	msgWelcome             = "Welcome! What is your name?"
	msgAskNameAgain        = "Please tell me your name."
	msgAskDiabetesTypeFmt  = "Nice to meet you, %s! What type of diabetes do you have? (enter 1 for type 1 or 2 for type 2)"
	msgInvalidDiabetesType = "Please enter 1 or 2."
	msgAskKnowledgeLevel   = "Rate your knowledge about diabetes on a scale from 1 to 5."
	msgInvalidKnowledge    = "Please enter a number from 1 to 5."
	msgChooseModule        = "Choose a module:"
	msgNoModules           = "No learning modules are available right now."
	msgModuleLessonsFmt    = "Module: %s\nChoose a lesson:"
	msgModuleEmpty         = "This module has no lessons yet. Returning to the menu."
	msgLessonFmt           = "Lesson: %s\n%s\n\n(Tap Next to continue to the questions)"
	msgReadyForQuiz        = "Ready to answer the questions?"
	msgNextLabel           = "Next"
	msgNoQuestions         = "This lesson has no questions. Returning to the menu."
	msgCorrect             = "Correct!"
	msgIncorrectFmt        = "Incorrect. The correct answer is: %s"
	msgChooseAnswer        = "Please choose one of the answer options."
	msgQuizError           = "Quiz error. Returning to the menu."
	msgPassedFmt           = "Great result! %d/%d (%.0f%%). +%d points."
	msgFailedFmt           = "Result %d/%d (%.0f%%). Worth reviewing this lesson. +%d points."
	msgBadgeFmt            = "You earned the '%s' badge!"
	msgReturningToMenu     = "Returning to the menu."
	msgModuleNotFound      = "Module not found. Returning to the menu."
	msgLessonNotFound      = "Lesson not found. Returning to the menu."
	msgAnswerNotFound      = "Answer option not found. Returning to the menu."
	msgEmptyQuestion       = "Please type your question."
	msgStaleSelection      = "That option is no longer available."
	msgUnknownCommand      = "Command not recognized. Type /help for the list of commands."
	msgSessionEnded        = "Session ended. Type /start to begin a new session."
	msgCompletedMark       = "✓ "

	// MsgApology is sent when a request could not be processed.
	MsgApology = "Sorry, something went wrong while processing your request."
)
