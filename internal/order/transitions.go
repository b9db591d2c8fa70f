package order

var transitions = map[State][]State{
	StateAddingItems:       {StateArrangingShipping, StateCancelled},
	StateArrangingShipping: {StateAddingItems, StateArrangingPayment, StateCancelled},
	StateArrangingPayment:  {StateAddingItems, StateArrangingShipping, StatePaymentSettled, StateCancelled},
	StatePaymentSettled:    {StateShipped, StateCancelled},
	StateShipped:           {StateDelivered},
}

// CanTransition reports whether the lifecycle allows moving from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStates lists the states reachable from s.
func NextStates(s State) []State {
	return append([]State(nil), transitions[s]...)
}

// checkTransition applies the table plus the guards that depend on the order
// contents.
func checkTransition(ord *Order, to State) *TransitionError {
	if ord.State == to {
		return &TransitionError{From: ord.State, To: to, Message: "order is already in the target state"}
	}
	if !CanTransition(ord.State, to) {
		return &TransitionError{From: ord.State, To: to, Message: "transition not allowed"}
	}
	switch to {
	case StateArrangingShipping, StateArrangingPayment:
		if len(ord.Lines) == 0 {
			return &TransitionError{From: ord.State, To: to, Message: "order is empty"}
		}
	}
	if to == StateArrangingPayment {
		if ord.CustomerID == "" {
			return &TransitionError{From: ord.State, To: to, Message: "order has no customer"}
		}
		if len(ord.ShippingLines) == 0 {
			return &TransitionError{From: ord.State, To: to, Message: "order has no shipping method"}
		}
	}
	if to == StatePaymentSettled {
		return &TransitionError{From: ord.State, To: to, Message: "order can only be settled by adding a payment"}
	}
	return nil
}
