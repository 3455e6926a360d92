package persona

import (
	"context"
	"errors"

	"github.com/harun/voicedesk/pkg/records"
	"github.com/harun/voicedesk/pkg/toolexecutor"
)

const FraudID = "fraud"

const fraudInstructions = `You are a calm, professional fraud detection representative for
Safeguard Bank India, a fictional bank. This is a sandbox demo.

Never ask for card numbers, PINs, passwords or OTPs. The only verification
allowed is the security question stored on the case.

Call flow:
1. Introduce yourself as the Safeguard Bank India fraud department, say you are
   calling about a suspicious card transaction and ask for the customer's first name.
2. Call get_fraud_case with that name. If there is no case, say so politely and end.
3. Ask the case's securityQuestion and check the reply with verify_security_answer.
   Never reveal the answer. After two failed attempts call update_fraud_case with
   status verification_failed and end the call.
4. Once verified, read the merchant, amount with currency, masked card ending,
   approximate time and location, then ask whether they made the transaction.
5. If yes, call update_fraud_case with status confirmed_safe. If no, call it with
   status confirmed_fraud and explain the card will be blocked and a dispute raised
   (mock actions only).
6. Recap the outcome, thank the customer and say goodbye.

Use short, reassuring sentences. Call update_fraud_case exactly once.`

type fraud struct {
	base
	deps Deps
}

// NewFraud builds the Safeguard Bank India fraud-alert persona.
func NewFraud(deps Deps) Persona {
	return &fraud{
		base: base{
			id:           FraudID,
			name:         "Safeguard Bank India fraud department",
			description:  "Fraud alert caller that verifies the customer and records the outcome.",
			instructions: fraudInstructions,
			greeting:     "Hello, this is the Safeguard Bank India fraud department calling about a suspicious card transaction. May I have your first name to locate your case?",
		},
		deps: deps,
	}
}

func (f *fraud) Tools() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "get_fraud_case",
			Description: "Look up the pending fraud case for a customer by first name.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "userName", Type: "string", Description: "Customer first name", Required: true},
			},
			Handler: f.getCase,
		},
		{
			Name:        "verify_security_answer",
			Description: "Check the customer's answer to the case security question.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "userName", Type: "string", Description: "Customer first name", Required: true},
				{Name: "answer", Type: "string", Description: "The answer the customer gave", Required: true},
			},
			Handler: f.verifyAnswer,
		},
		{
			Name:        "update_fraud_case",
			Description: "Record the outcome of the call on the fraud case.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "userName", Type: "string", Description: "Customer first name", Required: true},
				{Name: "status", Type: "string", Description: "Case outcome", Required: true, Enum: records.ValidStatuses},
				{Name: "outcomeNote", Type: "string", Description: "Short note describing the outcome", Required: true},
			},
			Handler: f.updateCase,
		},
	}
}

var errNoCaseStore = errors.New("fraud case store unavailable")

func (f *fraud) getCase(_ context.Context, params map[string]interface{}) (interface{}, error) {
	if f.deps.FraudCases == nil {
		return map[string]interface{}{"found": false, "error": errNoCaseStore.Error()}, nil
	}
	c, err := f.deps.FraudCases.Find(stringParam(params, "userName"))
	if err != nil {
		return map[string]interface{}{"found": false}, nil
	}
	return map[string]interface{}{"found": true, "case": c.Redacted()}, nil
}

func (f *fraud) verifyAnswer(_ context.Context, params map[string]interface{}) (interface{}, error) {
	if f.deps.FraudCases == nil {
		return map[string]interface{}{"found": false, "verified": false}, nil
	}
	ok, err := f.deps.FraudCases.VerifyAnswer(stringParam(params, "userName"), stringParam(params, "answer"))
	if err != nil {
		return map[string]interface{}{"found": false, "verified": false}, nil
	}
	return map[string]interface{}{"found": true, "verified": ok}, nil
}

func (f *fraud) updateCase(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if f.deps.FraudCases == nil {
		return map[string]interface{}{"success": false, "error": errNoCaseStore.Error()}, nil
	}
	status := stringParam(params, "status")
	note := stringParam(params, "outcomeNote")
	if _, err := f.deps.FraudCases.Update(ctx, stringParam(params, "userName"), status, note); err != nil {
		toolLogger(ctx, "update_fraud_case").Warn().Err(err).Str("status", status).Msg("Fraud case not updated")
		return map[string]interface{}{"success": false, "error": err.Error()}, nil
	}
	return map[string]interface{}{"success": true, "status": status, "note": note}, nil
}
