package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/voicedesk/pkg/records"
	"github.com/harun/voicedesk/pkg/toolexecutor"
)

const SDRID = "sdr"

// NoFAQMatchAnswer is returned by search_faq when nothing matches.
const NoFAQMatchAnswer = "I could not find a direct FAQ match. You may need to clarify or I can answer more generally."

const sdrInstructions = `You are Jhonathan, a sales development representative for Moonbill, an
Indian SaaS startup that helps businesses manage online payments,
subscriptions and invoicing.

Goals, in order:
1. Greet the visitor and ask what brought them here.
2. Learn what they are working on and what they need.
3. Answer product questions with the search_faq tool. Use only what it returns.
4. Collect lead details gradually, one or two questions at a time: name,
   company, email, role, use_case, team_size and timeline (now, soon or later).
5. When the visitor wraps up ("that's all", "I'm done", "thanks"), confirm
   their details, call save_lead exactly once, then summarise who they are,
   their use case and timeline, and thank them.

If the FAQ does not cover something, say you don't have that detail and steer
back to what you can help with. Stay concise and friendly. No emojis.`

type sdr struct {
	base
	deps Deps
}

// NewSDR builds the Moonbill sales persona.
func NewSDR(deps Deps) Persona {
	return &sdr{
		base: base{
			id:           SDRID,
			name:         "Jhonathan for Moonbill",
			description:  "Sales rep that answers FAQ questions and captures leads.",
			instructions: sdrInstructions,
			greeting:     "Hi, I'm Jhonathan from Moonbill. What brought you here today?",
		},
		deps: deps,
	}
}

func (s *sdr) Tools() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "search_faq",
			Description: "Search the Moonbill FAQ. Use for questions about the product, who it is for, pricing, free tier, integrations or support.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "question", Type: "string", Description: "The visitor's question in natural language", Required: true},
			},
			Handler: s.searchFAQ,
		},
		{
			Name:        "save_lead",
			Description: "Save the qualified lead once the visitor is done. Use 'unknown' for fields they did not give.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "name", Type: "string", Description: "Prospect name", Required: true},
				{Name: "company", Type: "string", Description: "Company name", Required: true},
				{Name: "email", Type: "string", Description: "Email address", Required: true},
				{Name: "role", Type: "string", Description: "Role, e.g. founder or engineer", Required: true},
				{Name: "use_case", Type: "string", Description: "What they want Moonbill for", Required: true},
				{Name: "team_size", Type: "string", Description: "Team or company size", Required: true},
				{Name: "timeline", Type: "string", Description: "When they want to start, in their words, e.g. now, next quarter or unknown", Required: true},
			},
			Handler: s.saveLead,
		},
	}
}

func (s *sdr) searchFAQ(_ context.Context, params map[string]interface{}) (interface{}, error) {
	question := stringParam(params, "question")
	var matches []string
	if s.deps.Library != nil {
		for _, entry := range s.deps.Library.FindFAQMatches(question, 3) {
			matches = append(matches, fmt.Sprintf("Q: %s\nA: %s", entry.Question, entry.Answer))
		}
	}
	if len(matches) == 0 {
		return map[string]interface{}{"found": false, "answer": NoFAQMatchAnswer}, nil
	}
	return map[string]interface{}{"found": true, "answer": strings.Join(matches, "\n\n")}, nil
}

func (s *sdr) saveLead(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	lead := records.Lead{
		Name:     stringParam(params, "name"),
		Company:  stringParam(params, "company"),
		Email:    stringParam(params, "email"),
		Role:     stringParam(params, "role"),
		UseCase:  stringParam(params, "use_case"),
		TeamSize: stringParam(params, "team_size"),
		Timeline: stringParam(params, "timeline"),
	}
	if s.deps.Records == nil {
		return errorStatus(errors.New("record store unavailable")), nil
	}

	logger := toolLogger(ctx, "save_lead")
	path, err := s.deps.Records.SaveLead(ctx, lead)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to save lead")
		return errorStatus(err), nil
	}
	logger.Info().Str("path", path).Str("company", lead.Company).Msg("Lead saved")
	return map[string]interface{}{
		"status": "saved",
		"file":   path,
		"lead":   lead,
	}, nil
}
