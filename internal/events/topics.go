package events

// Topics emitted by the settlement core.
const (
	TopicOrderRepriced          = "order.repriced"
	TopicSettlementRecalculated = "settlement.recalculated"
	TopicDisputeResolved        = "dispute.resolved"
	TopicPeriodClosed           = "settlement.period_closed"
)
