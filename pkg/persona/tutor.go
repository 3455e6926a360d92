package persona

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/voicedesk/pkg/content"
	"github.com/harun/voicedesk/pkg/toolexecutor"
)

const TutorID = "tutor"

// Tutor modes.
const (
	ModeLearn     = "learn"
	ModeQuiz      = "quiz"
	ModeTeachBack = "teach_back"
)

// Tutor phases.
const (
	PhaseAwaitMode       = "await_mode"
	PhaseAwaitConcept    = "await_concept"
	PhaseQuizWaitAnswer  = "quiz_wait_answer"
	PhaseTeachWaitAnswer = "teach_wait_answer"
)

// ModeVoices maps each tutor mode to its TTS voice.
var ModeVoices = map[string]string{
	ModeLearn:     "en-US-matthew",
	ModeQuiz:      "en-US-alicia",
	ModeTeachBack: "en-US-ken",
}

const tutorGreeting = "Hello! I'm your Active Recall Coach. Would you like to learn, be quizzed, or try teach-back mode?"

// TutorState is the tutor's dialogue position.
type TutorState struct {
	Mode    string
	Phase   string
	Concept *content.Concept
}

// Tutor is the Active Recall Coach. Every turn is scripted.
type Tutor struct {
	base
	library *content.Library

	mu    sync.Mutex
	state TutorState
}

// NewTutor builds the Active Recall Coach.
func NewTutor(deps Deps) Persona {
	t := &Tutor{
		base: base{
			id:          TutorID,
			name:        "Active Recall Coach",
			description: "Scripted tutor with learn, quiz and teach-back modes.",
			greeting:    tutorGreeting,
			voice:       ModeVoices[ModeLearn],
		},
		library: deps.Library,
		state:   TutorState{Phase: PhaseAwaitMode},
	}
	t.instructions = tutorInstructions(t.concepts())
	return t
}

func tutorInstructions(concepts []content.Concept) string {
	titles := make([]string, 0, len(concepts))
	for _, c := range concepts {
		titles = append(titles, c.Title)
	}
	known := "none loaded"
	if len(titles) > 0 {
		known = strings.Join(titles, ", ")
	}
	return fmt.Sprintf(`You are an Active Recall Coach. The caller picks a mode:
learn (you explain a concept), quiz (you ask a question about it) or
teach_back (they explain it and you give short feedback).
Use only these concepts: %s.
Keep answers short and spoken. Offer to switch modes or concepts after each step.`, known)
}

func (t *Tutor) Tools() []toolexecutor.ToolDefinition {
	return nil
}

// State returns a copy of the dialogue state.
func (t *Tutor) State() TutorState {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	if s.Concept != nil {
		c := *s.Concept
		s.Concept = &c
	}
	return s
}

func (t *Tutor) concepts() []content.Concept {
	if t.library == nil {
		return nil
	}
	return t.library.Concepts()
}

func (t *Tutor) findConcept(text string) (content.Concept, bool) {
	return content.FindConcept(t.concepts(), text)
}

// Intercept advances the tutor state machine. It always handles the turn.
func (t *Tutor) Intercept(_ context.Context, text string) (Reply, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lower := strings.ToLower(strings.TrimSpace(text))

	if reply, ok := t.switchMode(lower); ok {
		return reply, true
	}

	if t.state.Mode == "" {
		return say("Pick a mode: learn, quiz, or teach-back."), true
	}

	another := strings.Contains(lower, "another")
	if another {
		t.state.Concept = nil
		t.state.Phase = PhaseAwaitConcept
	}

	switch t.state.Mode {
	case ModeLearn:
		return t.learn(lower, another), true
	case ModeQuiz:
		return t.quiz(lower), true
	default:
		return t.teachBack(lower), true
	}
}

func (t *Tutor) switchMode(lower string) (Reply, bool) {
	var mode, line string
	switch {
	case strings.Contains(lower, "learn"):
		mode, line = ModeLearn, "You're now in learn mode. Which concept?"
	case strings.Contains(lower, "quiz"):
		mode, line = ModeQuiz, "Quiz mode activated. Which concept?"
	case strings.Contains(lower, "teach"):
		mode, line = ModeTeachBack, "Teach-back mode. What concept will you explain?"
	default:
		return Reply{}, false
	}

	t.state = TutorState{Mode: mode, Phase: PhaseAwaitConcept}
	t.voice = ModeVoices[mode]
	return Reply{Lines: []string{line}, Voice: t.voice}, true
}

func (t *Tutor) learn(lower string, another bool) Reply {
	if t.state.Concept == nil {
		c, ok := t.findConcept(lower)
		if !ok && another {
			return say("Sure, which concept next?")
		}
		if !ok {
			return say("Which concept do you want to learn? Try 'variables' or 'loops'.")
		}
		t.state.Concept = &c
		return say(
			fmt.Sprintf("%s: %s", c.Title, c.Summary),
			"Would you like another concept, or switch modes?",
		)
	}
	return say("Say 'another concept' or switch to quiz / teach-back mode.")
}

func (t *Tutor) quiz(lower string) Reply {
	if t.state.Phase == PhaseQuizWaitAnswer && t.state.Concept != nil {
		c := t.state.Concept
		t.state.Phase = PhaseAwaitConcept
		return say(
			QuizVerdict(lower, c.Summary),
			"Here's a reminder of the concept: "+c.Summary,
			"Another question, another concept, or switch modes?",
		)
	}

	if c, ok := t.findConcept(lower); ok {
		t.state.Concept = &c
		t.state.Phase = PhaseQuizWaitAnswer
		return say(c.SampleQuestion)
	}
	if t.state.Concept == nil {
		return say("Which concept should I quiz you on?")
	}

	// No new concept named; ask the same question again.
	t.state.Phase = PhaseQuizWaitAnswer
	return say(t.state.Concept.SampleQuestion)
}

func (t *Tutor) teachBack(lower string) Reply {
	if t.state.Phase == PhaseTeachWaitAnswer && t.state.Concept != nil {
		c := t.state.Concept
		t.state.Phase = PhaseAwaitConcept
		return say(
			TeachBackFeedback(lower),
			"Here's a clean summary: "+c.Summary,
			"Want another concept, or switch modes?",
		)
	}

	if c, ok := t.findConcept(lower); ok {
		t.state.Concept = &c
		t.state.Phase = PhaseTeachWaitAnswer
		return say("Teach this back to me: " + c.SampleQuestion)
	}
	if t.state.Concept == nil {
		return say("Which concept will you teach back?")
	}

	t.state.Phase = PhaseTeachWaitAnswer
	return say("Teach this back to me: " + t.state.Concept.SampleQuestion)
}

// QuizVerdict checks an answer for the summary's key words. Words shorter
// than four letters are ignored and longer ones match on their stem, so
// "stores" counts for "store".
func QuizVerdict(answer, summary string) string {
	for _, word := range strings.Fields(strings.ToLower(summary)) {
		word = strings.Trim(word, ".,;:!?'\"()")
		if len(word) < 4 {
			continue
		}
		if len(word) > 4 {
			word = word[:len(word)-1]
		}
		if content.ScoreKeywords(word, answer) > 0 {
			return "Good answer, that covers the key idea."
		}
	}
	return "Not quite. Let's go over it."
}

// TeachBackFeedback grades an explanation by its word count.
func TeachBackFeedback(explanation string) string {
	words := len(strings.Fields(explanation))
	switch {
	case words < 8:
		return "That was short. Try adding what it does and why it's useful."
	case words < 20:
		return "Nice! You covered the basics. Add an example to make it stronger."
	default:
		return "Great explanation! Clear structure and solid detail."
	}
}
