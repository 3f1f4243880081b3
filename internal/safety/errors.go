package safety

import (
	"fmt"

	"livebridge/internal/schema"
	"livebridge/pkg/exception"
)

// RiskRejectedError is returned when the local risk gate refused an order.
// It matches exception.ErrRiskRejected, and exception.ErrKillSwitchTripped
// when the kill switch was the cause.
type RiskRejectedError struct {
	Decision schema.RiskDecision
}

func (e *RiskRejectedError) Error() string {
	d := e.Decision
	return fmt.Sprintf("order %d rejected by risk: %s (projected pos %d, max %d, projected loss %d, max %d)",
		d.OrderID, d.Reason, d.ProjectedPos, d.MaxPos, d.ProjectedLoss, d.MaxLoss)
}

func (e *RiskRejectedError) Unwrap() []error {
	if e.Decision.Reason == schema.RiskReasonKillSwitch {
		return []error{exception.ErrRiskRejected, exception.ErrKillSwitchTripped}
	}
	return []error{exception.ErrRiskRejected}
}
