package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/harun/voicedesk/pkg/cart"
	"github.com/harun/voicedesk/pkg/records"
	"github.com/harun/voicedesk/pkg/toolexecutor"
	"github.com/rs/zerolog/log"
)

const ShoppingID = "shopping"

// Recipe adds several catalog items at once.
type Recipe struct {
	Name  string
	Items []string
}

// Recipes are checked in order against the caller's text.
var Recipes = []Recipe{
	{Name: "peanut butter sandwich", Items: []string{"bread_wholewheat", "peanut_butter"}},
	{Name: "pasta", Items: []string{"pasta_spaghetti", "tomato_sauce"}},
}

var checkoutPhrases = []string{"place my order", "i'm done", "that's all"}

// removalWords route a turn to the model so it can call remove_from_cart.
var removalWords = []string{"remove", "delete", "take out"}

const shoppingInstructions = `You are a friendly shopping assistant for SwiftCart. You help callers
order groceries and simple meal ingredients.

Ordering flow: when the caller says "place my order", "I'm done" or
"that's all", ask for their name, then the full delivery address, then call
save_order.

Always use the cart tools instead of describing them, and never offer items
that are not in the catalog.`

var errNoCart = errors.New("cart unavailable")

// Shopping is the SwiftCart assistant. The cart lives in the configured
// cart.Store under the call's session key.
type Shopping struct {
	base
	deps Deps
	cart *cart.Cart

	mu           sync.Mutex
	awaitingName bool
	customerName string
}

// NewShopping builds the SwiftCart assistant.
func NewShopping(deps Deps) Persona {
	s := &Shopping{
		base: base{
			id:           ShoppingID,
			name:         "SwiftCart shopping assistant",
			description:  "Grocery ordering assistant with a per-call cart and recipe bundles.",
			instructions: shoppingInstructions,
			greeting:     "Welcome to SwiftCart! What would you like to order today?",
		},
		deps: deps,
	}
	if deps.Carts != nil && deps.Library != nil {
		s.cart = cart.New(deps.Carts, deps.Library, deps.SessionKey)
	}
	return s
}

func (s *Shopping) Tools() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "add_to_cart",
			Description: "Add a catalog item to the cart.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "item_id", Type: "string", Description: "Catalog item id", Required: true},
				{Name: "quantity", Type: "integer", Description: "How many to add", Required: true},
			},
			Handler: s.addToCart,
		},
		{
			Name:        "remove_from_cart",
			Description: "Remove an item from the cart entirely.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "item_id", Type: "string", Description: "Catalog item id", Required: true},
			},
			Handler: s.removeFromCart,
		},
		{
			Name:        "show_cart",
			Description: "List the cart contents with prices and the total.",
			Handler:     s.showCart,
		},
		{
			Name:        "save_order",
			Description: "Place the order for everything in the cart.",
			Parameters: []toolexecutor.ToolParameter{
				{Name: "customer_name", Type: "string", Description: "Name for the order", Required: true},
				{Name: "address", Type: "string", Description: "Full delivery address", Required: true},
			},
			Handler: s.saveOrder,
		},
	}
}

func (s *Shopping) addToCart(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if s.cart == nil {
		return errorStatus(errNoCart), nil
	}
	id := stringParam(params, "item_id")
	qty, err := s.cart.Add(ctx, id, intParam(params, "quantity", 1))
	if err != nil {
		return errorStatus(err), nil
	}
	return map[string]interface{}{"added": id, "qty": qty}, nil
}

func (s *Shopping) removeFromCart(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if s.cart == nil {
		return errorStatus(errNoCart), nil
	}
	removed, err := s.cart.Remove(ctx, stringParam(params, "item_id"))
	if err != nil {
		return errorStatus(err), nil
	}
	return map[string]interface{}{"removed": removed}, nil
}

func (s *Shopping) showCart(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if s.cart == nil {
		return errorStatus(errNoCart), nil
	}
	lines, total, err := s.cart.Lines(ctx)
	if err != nil {
		return errorStatus(err), nil
	}
	return map[string]interface{}{"items": lines, "total": total}, nil
}

func (s *Shopping) saveOrder(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	path, err := s.placeOrder(ctx, stringParam(params, "customer_name"), stringParam(params, "address"))
	if err != nil {
		return map[string]interface{}{"saved": false, "error": err.Error()}, nil
	}
	return map[string]interface{}{"saved": true, "file": path}, nil
}

// placeOrder prices the cart, writes the order and empties the cart.
func (s *Shopping) placeOrder(ctx context.Context, name, address string) (string, error) {
	if s.cart == nil {
		return "", errNoCart
	}
	if s.deps.Records == nil {
		return "", errors.New("record store unavailable")
	}

	lines, total, err := s.cart.Lines(ctx)
	if err != nil {
		return "", err
	}
	items := make([]records.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, records.OrderItem{ID: l.ID, Name: l.Name, Qty: l.Qty, Price: l.Price, Subtotal: l.Subtotal})
	}

	path, err := s.deps.Records.SaveShoppingOrder(ctx, records.ShoppingOrder{
		CustomerName: name,
		Address:      address,
		Items:        items,
		Total:        total,
	})
	if err != nil {
		return "", err
	}
	if err := s.cart.Clear(ctx); err != nil {
		log.Warn().Err(err).Str("session_key", s.deps.SessionKey).Msg("Failed to clear cart after order")
	}
	return path, nil
}

// Intercept runs the scripted checkout and cart flow. Removals and turns that
// match no product or recipe are left to the model.
func (s *Shopping) Intercept(ctx context.Context, text string) (Reply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := strings.TrimSpace(text)
	lower := strings.ToLower(raw)

	for _, phrase := range checkoutPhrases {
		if strings.Contains(lower, phrase) {
			s.awaitingName = true
			s.customerName = ""
			return say("Sure! What name should I place the order under?"), true
		}
	}

	if s.awaitingName && isAlphaName(lower) {
		s.awaitingName = false
		s.customerName = raw
		return say("Great! What's the full delivery address?"), true
	}

	if s.customerName != "" && len(strings.Fields(lower)) > 3 {
		name := s.customerName
		s.customerName = ""
		path, err := s.placeOrder(ctx, name, raw)
		if err != nil {
			log.Error().Err(err).Str("session_key", s.deps.SessionKey).Msg("Failed to place order")
			return say("Sorry, I couldn't place your order. Please try again."), true
		}
		return say("Your order has been placed successfully! Saved to: " + path), true
	}

	for _, word := range removalWords {
		if strings.Contains(lower, word) {
			return Reply{}, false
		}
	}

	if strings.Contains(lower, "cart") {
		return s.describeCart(ctx), true
	}

	for _, recipe := range Recipes {
		if !strings.Contains(lower, recipe.Name) {
			continue
		}
		names := make([]string, 0, len(recipe.Items))
		for _, id := range recipe.Items {
			if reply, failed := s.addOne(ctx, id); failed {
				return reply, true
			}
			names = append(names, s.productName(id))
		}
		return say(fmt.Sprintf("I added %s for your %s.", strings.Join(names, ", "), recipe.Name)), true
	}

	if s.deps.Library != nil {
		if product, ok := s.deps.Library.FindProduct(lower); ok {
			if reply, failed := s.addOne(ctx, product.ID); failed {
				return reply, true
			}
			return say(fmt.Sprintf("Added %s to your cart.", product.Name)), true
		}
	}

	return Reply{}, false
}

func (s *Shopping) addOne(ctx context.Context, id string) (Reply, bool) {
	if s.cart == nil {
		return say("Sorry, the cart isn't available right now."), true
	}
	if _, err := s.cart.Add(ctx, id, 1); err != nil {
		log.Error().Err(err).Str("item_id", id).Msg("Failed to add item to cart")
		return say("Sorry, I couldn't add that item."), true
	}
	return Reply{}, false
}

func (s *Shopping) productName(id string) string {
	if s.deps.Library == nil {
		return id
	}
	p, err := s.deps.Library.ProductByID(id)
	if err != nil {
		return id
	}
	return p.Name
}

func (s *Shopping) describeCart(ctx context.Context) Reply {
	if s.cart == nil {
		return say("Your cart is currently empty.")
	}
	lines, _, err := s.cart.Lines(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read cart")
		return say("Sorry, I couldn't read your cart.")
	}
	if len(lines) == 0 {
		return say("Your cart is currently empty.")
	}
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		parts = append(parts, fmt.Sprintf("%s x%d", l.Name, l.Qty))
	}
	return say("Your cart contains: " + strings.Join(parts, ", "))
}

func isAlphaName(text string) bool {
	compact := strings.ReplaceAll(text, " ", "")
	if compact == "" {
		return false
	}
	for _, r := range compact {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
