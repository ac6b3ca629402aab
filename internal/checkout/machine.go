package checkout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stayhub/checkout/internal/apierr"
	"github.com/stayhub/checkout/internal/docstore"
)

// allowed returns the set of states reachable directly from from.
func allowed(from State) map[State]bool {
	switch from {
	case StateInitiated:
		return set(StateHoldCreated, StateCanceled, StateFailed)
	case StateHoldCreated:
		return set(StatePaymentCreated, StateExpired, StateCanceled, StateFailed)
	case StatePaymentCreated:
		return set(StatePaid, StateExpired, StateCanceled, StateFailed)
	case StatePaid:
		return set(StateBooked, StateFailed)
	case StateBooked:
		return set(StateCanceled)
	default:
		return nil
	}
}

func set(states ...State) map[State]bool {
	m := make(map[State]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}

// TransitionInput carries the actor/reason/field-update payload for a
// transition call. Updates MUST NOT set state, stateHistory, or updatedAt.
type TransitionInput struct {
	Actor   Actor
	Reason  string
	Updates map[string]any
}

// Transition loads the checkout identified by checkoutID inside txn,
// validates the move to target against the allowed graph, merges Updates,
// appends a transition record, and writes the result back. Returns the
// updated Checkout.
func Transition(txn docstore.Txn, checkoutID string, target State, in TransitionInput) (Checkout, error) {
	doc, err := txn.Get(docstore.CollectionCheckouts, checkoutID)
	if err != nil {
		if err == docstore.ErrNotFound {
			return Checkout{}, apierr.New(apierr.CodeNotFound, "checkout not found")
		}
		return Checkout{}, err
	}

	current, err := fromDoc(doc)
	if err != nil {
		return Checkout{}, err
	}

	if current.State == target {
		return current, nil
	}

	if IsTerminal(current.State) && !(current.State == StateBooked && target == StateCanceled) {
		return Checkout{}, apierr.New(apierr.CodeInvalidTransition, "checkout is in a terminal state")
	}

	if !allowed(current.State)[target] {
		return Checkout{}, apierr.Newf(apierr.CodeInvalidTransition, "cannot transition from %s to %s", current.State, target)
	}

	for _, forbidden := range []string{"state", "stateHistory", "updatedAt"} {
		delete(in.Updates, forbidden)
	}

	now := time.Now().UTC()
	transition := Transition{
		From:      current.State,
		To:        target,
		Timestamp: now,
		Reason:    in.Reason,
		Actor:     in.Actor,
	}

	updates := make(map[string]any, len(in.Updates)+3)
	for k, v := range in.Updates {
		updates[k] = v
	}
	updates["state"] = target
	updates["stateHistory"] = append(append([]Transition{}, current.StateHistory...), transition)
	updates["updatedAt"] = now

	if err := txn.Update(docstore.CollectionCheckouts, checkoutID, updates); err != nil {
		return Checkout{}, err
	}

	current.State = target
	current.StateHistory = updates["stateHistory"].([]Transition)
	current.UpdatedAt = now
	applyUpdatesToStruct(&current, in.Updates)

	return current, nil
}

// TryTransition wraps Transition, returning (Checkout{}, false, nil) on
// INVALID_TRANSITION so callers can gracefully detect races (for example a
// webhook arriving after an expiration) instead of treating them as errors.
func TryTransition(txn docstore.Txn, checkoutID string, target State, in TransitionInput) (Checkout, bool, error) {
	result, err := Transition(txn, checkoutID, target, in)
	if err != nil {
		if code, ok := apierr.As(err); ok && code.Code == apierr.CodeInvalidTransition {
			return Checkout{}, false, nil
		}
		return Checkout{}, false, err
	}
	return result, true, nil
}

// Load reads and decodes a checkout outside any transaction.
func Load(ctx context.Context, gw docstore.Gateway, checkoutID string) (Checkout, error) {
	doc, err := gw.Get(ctx, docstore.CollectionCheckouts, checkoutID)
	if err != nil {
		if err == docstore.ErrNotFound {
			return Checkout{}, apierr.New(apierr.CodeNotFound, "checkout not found")
		}
		return Checkout{}, err
	}
	return fromDoc(doc)
}

// LoadTxn reads and decodes a checkout inside an in-flight transaction, for
// callers that need to inspect the current record before deciding whether
// to call Transition/TryTransition within the same transaction.
func LoadTxn(txn docstore.Txn, checkoutID string) (Checkout, error) {
	doc, err := txn.Get(docstore.CollectionCheckouts, checkoutID)
	if err != nil {
		if err == docstore.ErrNotFound {
			return Checkout{}, apierr.New(apierr.CodeNotFound, "checkout not found")
		}
		return Checkout{}, err
	}
	return fromDoc(doc)
}

// FromDoc decodes a raw document into a Checkout, for callers (the hold
// expiration sweep) that list documents directly through the gateway
// rather than loading a single known id.
func FromDoc(doc docstore.Doc) (Checkout, error) {
	return fromDoc(doc)
}

func fromDoc(doc docstore.Doc) (Checkout, error) {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return Checkout{}, apierr.Wrap(apierr.CodeInternal, "decode checkout document", err)
	}
	var c Checkout
	if err := json.Unmarshal(raw, &c); err != nil {
		return Checkout{}, apierr.Wrap(apierr.CodeInternal, "decode checkout document", err)
	}
	c.CheckoutID = doc.ID
	return c, nil
}

// ToFields converts a Checkout into the flat map docstore.Set/Update expect.
func ToFields(c Checkout) map[string]any {
	raw, _ := json.Marshal(c)
	var fields map[string]any
	_ = json.Unmarshal(raw, &fields)
	return fields
}

// applyUpdatesToStruct keeps the in-memory struct returned to callers
// consistent with the subset of well-known fields the orchestrator sets
// via Updates, without requiring a second document round-trip.
func applyUpdatesToStruct(c *Checkout, updates map[string]any) {
	raw, err := json.Marshal(updates)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, c)
}
