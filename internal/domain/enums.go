package domain

// PurchaseStatus represents the status of a purchase line item
type PurchaseStatus string

const (
	// CREATING - created at checkout, not yet paid
	PurchaseStatusCreating PurchaseStatus = "creating"
	// PENDING - paid, fulfillment confirmed, awaiting delivery
	PurchaseStatusPending PurchaseStatus = "pending"
	// COMPLETED - fulfiller reported the order complete
	PurchaseStatusCompleted PurchaseStatus = "completed"
	// CANCELLED - charge declined or fulfiller cancelled
	PurchaseStatusCancelled PurchaseStatus = "cancelled"
	// FAILED - submission to the fulfiller never succeeded
	PurchaseStatusFailed PurchaseStatus = "failed"
)

// IsValid checks if the purchase status is valid
func (s PurchaseStatus) IsValid() bool {
	switch s {
	case PurchaseStatusCreating,
		PurchaseStatusPending,
		PurchaseStatusCompleted,
		PurchaseStatusCancelled,
		PurchaseStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a status transition is valid
func (s PurchaseStatus) CanTransitionTo(newStatus PurchaseStatus) bool {
	switch s {
	case PurchaseStatusCreating:
		return newStatus == PurchaseStatusPending ||
			newStatus == PurchaseStatusCancelled ||
			newStatus == PurchaseStatusFailed
	case PurchaseStatusPending:
		return newStatus == PurchaseStatusCompleted ||
			newStatus == PurchaseStatusCancelled
	case PurchaseStatusCompleted, PurchaseStatusCancelled, PurchaseStatusFailed:
		return false // Terminal states
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusCompleted || s == PurchaseStatusCancelled || s == PurchaseStatusFailed
}

// PrintOrderStatus represents the status of a print order
type PrintOrderStatus string

const (
	// CREATING - awaiting the fulfiller's production confirmation
	PrintOrderStatusCreating PrintOrderStatus = "creating"
	// CHARGING - transient lock state while the deferred charge runs
	PrintOrderStatusCharging PrintOrderStatus = "charging"
	// PENDING - charged and in production, awaiting physical delivery
	PrintOrderStatusPending PrintOrderStatus = "pending"
	// CANCELLED - charge permanently failed or fulfiller cancelled
	PrintOrderStatusCancelled PrintOrderStatus = "cancelled"
	// FAILED - submission failure, requires manual resubmission
	PrintOrderStatusFailed PrintOrderStatus = "failed"
)

// IsValid checks if the print order status is valid
func (s PrintOrderStatus) IsValid() bool {
	switch s {
	case PrintOrderStatusCreating,
		PrintOrderStatusCharging,
		PrintOrderStatusPending,
		PrintOrderStatusCancelled,
		PrintOrderStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a status transition is valid. The only permitted
// regression is charging -> creating, the transient charge-failure retry edge.
func (s PrintOrderStatus) CanTransitionTo(newStatus PrintOrderStatus) bool {
	switch s {
	case PrintOrderStatusCreating:
		return newStatus == PrintOrderStatusCharging ||
			newStatus == PrintOrderStatusCancelled ||
			newStatus == PrintOrderStatusFailed
	case PrintOrderStatusCharging:
		return newStatus == PrintOrderStatusPending ||
			newStatus == PrintOrderStatusCreating ||
			newStatus == PrintOrderStatusCancelled
	case PrintOrderStatusPending, PrintOrderStatusCancelled, PrintOrderStatusFailed:
		return false // Terminal states
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed
func (s PrintOrderStatus) IsTerminal() bool {
	return s == PrintOrderStatusPending || s == PrintOrderStatusCancelled || s == PrintOrderStatusFailed
}

// FulfillmentStage is the fulfiller's stage vocabulary, normalized from
// webhook payloads. Stages outside this set update tracking fields only.
type FulfillmentStage string

const (
	// InProgress - production has started; the charge trigger
	StageInProgress FulfillmentStage = "InProgress"
	// Complete - produced and delivered
	StageComplete FulfillmentStage = "Complete"
	// Cancelled - the fulfiller cancelled the order
	StageCancelled FulfillmentStage = "Cancelled"
	// Unknown - any stage we do not act on
	StageUnknown FulfillmentStage = "Unknown"
)

// ParseStage maps a wire stage string onto the known vocabulary.
func ParseStage(raw string) FulfillmentStage {
	switch FulfillmentStage(raw) {
	case StageInProgress, StageComplete, StageCancelled:
		return FulfillmentStage(raw)
	default:
		return StageUnknown
	}
}

// ImpliesProductionStarted reports whether a stage confirms the fulfiller has
// begun (or finished) production. Complete implies it so that an
// out-of-order Complete delivered before any InProgress still triggers the
// deferred charge.
func (s FulfillmentStage) ImpliesProductionStarted() bool {
	return s == StageInProgress || s == StageComplete
}
