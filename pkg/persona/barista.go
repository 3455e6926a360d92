package persona

import (
	"context"
	"errors"

	"github.com/harun/voicedesk/pkg/records"
	"github.com/harun/voicedesk/pkg/toolexecutor"
)

const BaristaID = "barista"

const baristaInstructions = `You are Mathew, a friendly barista at MoonBrew Cafe.
Help the caller place one complete coffee order. The order has these fields:
drinkType, size, milk, extras (a list, possibly empty) and name.

- Greet the caller as Mathew and ask for their name first.
- Ask one question at a time until drink type, size and milk are known and
  extras are gathered or confirmed as none.
- Confirm each answer. Never assume a value.
- When every field is known and the caller confirms, call save_order once.
- After it returns, read back a short summary and say the order is saved.
Keep replies short and friendly. This is a voice call: no emojis or formatting.`

type barista struct {
	base
	deps Deps
}

// NewBarista builds the MoonBrew Cafe ordering persona.
func NewBarista(deps Deps) Persona {
	return &barista{
		base: base{
			id:           BaristaID,
			name:         "Mathew at MoonBrew Cafe",
			description:  "Coffee ordering barista that saves completed orders.",
			instructions: baristaInstructions,
			greeting:     "Hi, I'm Mathew at MoonBrew Cafe! Before we start, what's your name?",
		},
		deps: deps,
	}
}

func (b *barista) Tools() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{{
		Name:        "save_order",
		Description: "Save a completed coffee order. Call only after the caller confirmed every field.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "drinkType", Type: "string", Description: "Drink, e.g. latte or cappuccino", Required: true},
			{Name: "size", Type: "string", Description: "Cup size", Required: true},
			{Name: "milk", Type: "string", Description: "Milk choice", Required: true},
			{Name: "extras", Type: "array", Items: "string", Description: "Extras such as syrups or an extra shot", Required: true},
			{Name: "name", Type: "string", Description: "Customer name", Required: true},
		},
		Handler: b.saveOrder,
	}}
}

func (b *barista) saveOrder(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	order := records.CoffeeOrder{
		DrinkType: stringParam(params, "drinkType"),
		Size:      stringParam(params, "size"),
		Milk:      stringParam(params, "milk"),
		Extras:    stringSliceParam(params, "extras"),
		Name:      stringParam(params, "name"),
	}
	if b.deps.Records == nil {
		return errorStatus(errors.New("record store unavailable")), nil
	}

	path, err := b.deps.Records.SaveCoffeeOrder(ctx, order)
	if err != nil {
		toolLogger(ctx, "save_order").Error().Err(err).Msg("Failed to save coffee order")
		return errorStatus(err), nil
	}
	toolLogger(ctx, "save_order").Info().Str("path", path).Str("drink", order.DrinkType).Msg("Coffee order saved")
	return map[string]interface{}{
		"status":   "saved",
		"filepath": path,
		"order":    order,
	}, nil
}
