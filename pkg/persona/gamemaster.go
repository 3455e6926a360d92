package persona

import (
	"context"
	"strings"

	"github.com/harun/voicedesk/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
)

const GameMasterID = "gamemaster"

var restartPhrases = []string{"restart", "new game", "start over"}

const gameMasterInstructions = `You are a voice-only Game Master running a fantasy adventure in the
sky-city of Aeralith: floating islands, airships, ancient ruins and dragons.

Describe scenes, dangers, characters and outcomes in two to four short
paragraphs of plain narration. Never act for the player and never assume
their thoughts. Early on, ask for their name and what kind of adventurer they
are, then use both in the story.

Remember the player's choices, allies, enemies, items and the places and
characters named earlier in this call. Introduce a hook within the first few
turns and reach a small turning point within roughly eight to fifteen turns.
If the player is stuck, offer two or three options but let them choose.

If the player asks to restart, acknowledge it briefly and open a fresh
adventure in the same world.

Keep it PG-13, avoid real-world politics and religion, and end every reply by
asking what the player does next.`

type gameMaster struct {
	base
	deps Deps
}

// NewGameMaster builds the Aeralith storyteller. Turns go to the LLM.
func NewGameMaster(deps Deps) Persona {
	return &gameMaster{
		base: base{
			id:           GameMasterID,
			name:         "Game Master of Aeralith",
			description:  "Fantasy storyteller that runs an interactive adventure.",
			instructions: gameMasterInstructions,
			greeting:     "Welcome, traveler, to the sky-city of Aeralith. Before your adventure begins, what is your name, and what kind of adventurer are you?",
		},
		deps: deps,
	}
}

func (g *gameMaster) Tools() []toolexecutor.ToolDefinition {
	return nil
}

// Intercept drops the transcript when the player restarts so the next LLM turn
// begins a fresh story. It never answers the turn itself.
func (g *gameMaster) Intercept(ctx context.Context, text string) (Reply, bool) {
	if !IsRestart(text) || g.deps.Sessions == nil || g.deps.SessionKey == "" {
		return Reply{}, false
	}
	if err := g.deps.Sessions.Delete(ctx, g.deps.SessionKey); err != nil {
		log.Warn().Err(err).Str("session_key", g.deps.SessionKey).Msg("Failed to reset adventure transcript")
	}
	return Reply{}, false
}

// IsRestart reports whether text asks for a new adventure.
func IsRestart(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range restartPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
