package receipt

// terminates is the compile-time truth table mapping each obligation-creating
// receipt type to the receipt types that legally discharge it. Termination is
// type semantics composed with ledger evidence: the engine never scans the
// ledger to infer termination, it checks this table plus parent linkage.
var terminates = map[Type][]Type{
	TypeTaskAssigned: {
		TypeTaskCompleted,
		TypeTaskFailed,
		TypeTaskCanceled,
	},
}

// terminalTypes is the union of the table's ranges.
var terminalTypes = func() map[Type]bool {
	set := make(map[Type]bool)
	for _, children := range terminates {
		for _, t := range children {
			set[t] = true
		}
	}
	return set
}()

// IsObligationType reports whether receipts of type t create an obligation,
// i.e. the table maps t to a non-empty terminator set.
func IsObligationType(t Type) bool {
	return len(terminates[t]) > 0
}

// IsTerminalType reports whether t appears in any terminator set.
func IsTerminalType(t Type) bool {
	return terminalTypes[t]
}

// CanTerminate reports whether a receipt of childType legally discharges an
// obligation of parentType.
func CanTerminate(childType, parentType Type) bool {
	for _, t := range terminates[parentType] {
		if t == childType {
			return true
		}
	}
	return false
}

// ObligationTypes returns the receipt types that create obligations. The
// slice is freshly allocated; callers may reorder it.
func ObligationTypes() []Type {
	types := make([]Type, 0, len(terminates))
	for t := range terminates {
		types = append(types, t)
	}
	return types
}
