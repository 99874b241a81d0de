// Package notifier fans a decoded event out to its delivery channels.
//
// # Contract
//
// The Dispatcher runs every channel that accepts the event, sequentially, in a
// fixed order: jira, servicenow, email, topic, slack, datadog, splunk-hec.
// A channel reports one ChannelResult per notification unit (recipient set,
// ticket group, topic, chat destination, sink). Results are appended to the
// event and successful units write a write-once audit marker
// (delivered_email, delivered_jira, delivered_jira_error, ...).
//
// A channel failure, including a panic, becomes a failed result. It never
// stops the remaining channels and never propagates out of Dispatch.
//
// # Deduplication
//
// Human-facing units pass the dedup gate just before transmission. The key is
// (execution_start, channel|policy|account_id|account|region|unit). The gate
// fails open.
//
// # Types
//
//	type Channel interface {
//	    Name() string
//	    Accepts(ev *types.Event) bool
//	    Deliver(ctx context.Context, ev *types.Event) []types.ChannelResult
//	}
//
//	func NewDispatcher(logger *zap.Logger, channels ...Channel) *Dispatcher
//	func (d *Dispatcher) Dispatch(ctx context.Context, ev *types.Event)
//	func Build(deps Deps) ([]Channel, error)
package notifier
