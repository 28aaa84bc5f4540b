// Package dispatch turns model-requested tool calls into cart mutations.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/prescriptly/internal/domain"
	"github.com/vbonduro/prescriptly/internal/llm"
)

const (
	ToolAddToCart = "addToCart"
	ToolClearCart = "clearCart"
)

// maxParallel bounds concurrent dispatches within one batch.
const maxParallel = 4

type Catalog interface {
	FindByName(ctx context.Context, name string) (*domain.Medicine, error)
}

type Cart interface {
	Add(ctx context.Context, userID string, m domain.Medicine, quantity int) (*domain.CartLine, error)
	Clear(ctx context.Context, userID string) error
}

type Options struct {
	// RequireClearConfirmation makes clearCart a two-step protocol: the first
	// call returns a token, and the token is only honoured after the user has
	// spoken again.
	RequireClearConfirmation bool
}

// Dispatcher executes tool calls for a single user's cart.
type Dispatcher struct {
	catalog    Catalog
	cart       Cart
	userID     string
	opts       Options
	logger     *slog.Logger
	tools      []llm.ToolDeclaration
	validators map[string]*llm.Validator

	mu        sync.Mutex
	userTurns int64
	pending   *clearRequest
}

type clearRequest struct {
	token    string
	issuedAt int64
}

func New(catalog Catalog, cart Cart, userID string, opts Options, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		catalog:    catalog,
		cart:       cart,
		userID:     userID,
		opts:       opts,
		logger:     logger.With("component", "dispatch", "user_id", userID),
		tools:      Declarations(opts.RequireClearConfirmation),
		validators: make(map[string]*llm.Validator),
	}
	for _, t := range d.tools {
		v, err := llm.NewValidator(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", t.Name, err)
		}
		d.validators[t.Name] = v
	}
	return d, nil
}

// Declarations returns the tool set exposed to the model.
func Declarations(requireClearConfirmation bool) []llm.ToolDeclaration {
	clearParams := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
	clearDesc := "Remove every item from the user's cart. Only call this after the user has explicitly confirmed they want the cart emptied."
	if requireClearConfirmation {
		clearParams["properties"] = map[string]any{
			"confirmationToken": map[string]any{
				"type":        "string",
				"description": "Token returned by a previous clearCart call, sent after the user confirmed.",
			},
		}
		clearDesc += " The first call returns a confirmation token; ask the user to confirm, then call again with that token."
	}

	return []llm.ToolDeclaration{
		{
			Name:        ToolAddToCart,
			Description: "Add a medicine from the pharmacy inventory to the user's cart.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"medicineName": map[string]any{
						"type":        "string",
						"minLength":   1,
						"description": "Exact name of the medicine as listed in the inventory.",
					},
					"quantity": map[string]any{
						"type":        "integer",
						"minimum":     1,
						"description": "Number of units to add. Defaults to 1.",
					},
				},
				"required": []string{"medicineName"},
			},
		},
		{
			Name:        ToolClearCart,
			Description: clearDesc,
			Parameters:  clearParams,
		},
	}
}

func (d *Dispatcher) Tools() []llm.ToolDeclaration {
	return d.tools
}

// ObserveUserTurn records that the user has sent a new message. Pending
// clearCart confirmations become redeemable only after this.
func (d *Dispatcher) ObserveUserTurn() {
	d.mu.Lock()
	d.userTurns++
	d.mu.Unlock()
}

// DispatchBatch runs every call and returns exactly one result per call, in
// call order.
func (d *Dispatcher) DispatchBatch(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))
	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = d.Dispatch(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Dispatch executes one call. Failures are reported inside the result so the
// model can react; Dispatch itself never fails.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	v, ok := d.validators[call.Name]
	if !ok {
		return errorResult(call, fmt.Sprintf("Error: Unknown tool '%s'.", call.Name))
	}
	if err := v.Validate(call.Arguments); err != nil {
		d.logger.Warn("invalid tool arguments", "tool", call.Name, "call_id", call.ID, "error", err)
		return errorResult(call, fmt.Sprintf("Error: Invalid arguments for %s.", call.Name))
	}

	switch call.Name {
	case ToolAddToCart:
		return d.addToCart(ctx, call)
	case ToolClearCart:
		return d.clearCart(ctx, call)
	}
	return errorResult(call, fmt.Sprintf("Error: Unknown tool '%s'.", call.Name))
}

// maxQuantity bounds a single add so the float to int conversion is exact.
const maxQuantity = 1_000_000

type addToCartArgs struct {
	MedicineName string `json:"medicineName"`
	// Quantity is a float because models emit integral values such as 2.0.
	Quantity *float64 `json:"quantity"`
}

// quantity returns the requested quantity, defaulting to one. It reports
// false for fractional, non-positive or oversized values.
func (a addToCartArgs) quantity() (int, bool) {
	if a.Quantity == nil {
		return 1, true
	}
	q := *a.Quantity
	if q != math.Trunc(q) || q < 1 || q > maxQuantity {
		return 0, false
	}
	return int(q), true
}

func (d *Dispatcher) addToCart(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	var args addToCartArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return errorResult(call, fmt.Sprintf("Error: Invalid arguments for %s.", call.Name))
	}
	qty, ok := args.quantity()
	if !ok {
		return errorResult(call, fmt.Sprintf("Error: Invalid arguments for %s.", call.Name))
	}

	m, err := d.catalog.FindByName(ctx, args.MedicineName)
	if err != nil {
		d.logger.Error("catalog lookup failed", "medicine", args.MedicineName, "error", err)
		return errorResult(call, "Error: The inventory system is unavailable. Please try again.")
	}
	if m == nil {
		return errorResult(call, fmt.Sprintf("Error: Could not find medicine '%s' in the inventory system.", args.MedicineName))
	}
	if !m.InStock {
		return errorResult(call, fmt.Sprintf("Error: %s is currently out of stock.", m.Name))
	}

	if _, err := d.cart.Add(ctx, d.userID, *m, qty); err != nil {
		d.logger.Error("add to cart failed", "medicine", m.Name, "error", err)
		return errorResult(call, fmt.Sprintf("Error: Could not add %s to the cart. Please try again.", m.Name))
	}

	d.logger.Info("added to cart", "medicine", m.Name, "quantity", qty, "call_id", call.ID)
	return llm.ToolResult{
		CallID:  call.ID,
		Name:    call.Name,
		Content: fmt.Sprintf("Success: Added %d x %s to cart. Total Price: ₹%d", qty, m.Name, m.Price*int64(qty)),
	}
}

type clearCartArgs struct {
	ConfirmationToken string `json:"confirmationToken"`
}

func (d *Dispatcher) clearCart(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	if d.opts.RequireClearConfirmation {
		if res, proceed := d.checkClearConfirmation(call); !proceed {
			return res
		}
	}

	if err := d.cart.Clear(ctx, d.userID); err != nil {
		d.logger.Error("clear cart failed", "error", err)
		return errorResult(call, "Error: Could not clear the cart. Please try again.")
	}
	d.logger.Info("cart cleared", "call_id", call.ID)
	return llm.ToolResult{CallID: call.ID, Name: call.Name, Content: "Success: The cart has been cleared."}
}

// checkClearConfirmation reports whether the clear may proceed. When it may
// not, the returned result tells the model what to do next.
func (d *Dispatcher) checkClearConfirmation(call llm.ToolCall) (llm.ToolResult, bool) {
	var args clearCartArgs
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return errorResult(call, fmt.Sprintf("Error: Invalid arguments for %s.", call.Name)), false
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if args.ConfirmationToken == "" {
		d.pending = &clearRequest{token: uuid.NewString(), issuedAt: d.userTurns}
		return llm.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Content: fmt.Sprintf("Confirmation required: the cart was NOT cleared. Ask the user to confirm. "+
				"If they confirm, call clearCart with confirmationToken %q.", d.pending.token),
		}, false
	}

	if d.pending == nil || d.pending.token != args.ConfirmationToken {
		return errorResult(call, "Error: Unknown or expired confirmation token. The cart was not cleared."), false
	}
	if d.userTurns <= d.pending.issuedAt {
		return errorResult(call, "Error: The user has not confirmed yet. Ask the user before clearing the cart."), false
	}
	d.pending = nil
	return llm.ToolResult{}, true
}

func errorResult(call llm.ToolCall, msg string) llm.ToolResult {
	return llm.ToolResult{CallID: call.ID, Name: call.Name, Content: msg, IsError: true}
}
