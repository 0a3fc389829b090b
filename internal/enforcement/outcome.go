package enforcement

import (
	"fmt"

	"sentinel-antispam/internal/rules"
)

type Status int

const (
	StatusApplied Status = iota
	StatusPartialFailure
)

func (s Status) String() string {
	if s == StatusPartialFailure {
		return "partial_failure"
	}
	return "applied"
}

// Delivery is the result of a best-effort side effect. NotDelivered never
// fails the enforcement itself.
type Delivery int

const (
	DeliverySkipped Delivery = iota
	DeliveryDelivered
	DeliveryNotDelivered
)

func (d Delivery) String() string {
	switch d {
	case DeliveryDelivered:
		return "delivered"
	case DeliveryNotDelivered:
		return "not_delivered"
	default:
		return "skipped"
	}
}

type Outcome struct {
	Action          rules.Action
	Status          Status
	Reason          string
	Notification    Delivery
	MessageDeletion Delivery
}

func PartialFailure(action rules.Action, reason string) Outcome {
	return Outcome{Action: action, Status: StatusPartialFailure, Reason: reason}
}

func (o Outcome) String() string {
	if o.Status == StatusPartialFailure {
		return fmt.Sprintf("%s(%s)", o.Status, o.Reason)
	}
	return o.Status.String()
}
