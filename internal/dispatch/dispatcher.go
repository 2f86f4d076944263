package dispatch

import (
	"context"
	"errors"
	"fmt"

	"tablecall/internal/customers"
	"tablecall/internal/voice"
)

// ErrDispatch marks a call that never reached the provider. The record it
// was meant for stays eligible and a later sweep retries it.
var ErrDispatch = errors.New("call dispatch failure")

// Dispatcher turns an eligible customer into a provider call request.
//
// Rules:
//   - Stateless. It never reads or writes customer records; deciding who
//     to call and recording the outcome both belong to the scheduler.
//   - Personalization happens here: the flow's script is rendered with the
//     customer's name and the restaurant's name before submission.
type Dispatcher struct {
	provider   voice.Provider
	restaurant string
}

func NewDispatcher(provider voice.Provider, restaurant string) *Dispatcher {
	return &Dispatcher{provider: provider, restaurant: restaurant}
}

// Dispatch submits one call for the customer on the given flow and returns
// the provider's call id.
func (d *Dispatcher) Dispatch(ctx context.Context, c customers.Customer, flow voice.Flow) (voice.CallSubmission, error) {
	if !voice.ValidFlow(flow) {
		return voice.CallSubmission{}, fmt.Errorf("unknown flow %q", flow)
	}
	if c.Mobile == "" {
		return voice.CallSubmission{}, fmt.Errorf("customer %s has no mobile number", c.ID)
	}

	s := scripts[flow]
	req := voice.CallRequest{
		PhoneNumber: c.Mobile,
		CustomerID:  c.ID,
		Flow:        flow,
		Context: voice.CallContext{
			Name:           c.Name,
			RestaurantName: d.restaurant,
			Script: Render(s.template, map[string]string{
				"name":            c.Name,
				"restaurant_name": d.restaurant,
			}),
			FlowType:      string(flow),
			CaptureFields: CaptureFields(flow),
		},
	}

	sub, err := d.provider.SubmitCall(ctx, req)
	if err != nil {
		return voice.CallSubmission{}, fmt.Errorf("%w: %s call to %s: %w", ErrDispatch, flow, c.ID, err)
	}
	if sub.CallID == "" {
		return voice.CallSubmission{}, fmt.Errorf("%w: provider accepted the call without an id", ErrDispatch)
	}
	return sub, nil
}
