package models

// Broker topics.
const (
	TopicNewEpoch       = "new_epoch"
	TopicNewBlock       = "new_block"
	TopicNewDelegation  = "new_delegation"
	TopicNewPayment     = "new_payment"
	TopicNewTransaction = "new_transaction"

	TopicEvent       = "wbh_event"
	TopicWarning     = "wbh_warning"
	TopicMaxedOut    = "wbh_maxedout"
	TopicUnreachable = "wbh_unreachable"
)

// EventTopics are the blockchain event topics the router consumes.
var EventTopics = []string{
	TopicNewEpoch,
	TopicNewBlock,
	TopicNewDelegation,
	TopicNewPayment,
	TopicNewTransaction,
}
