package types

import "strings"

// ChannelResult is the outcome of one delivery attempt on one channel.
// A channel produces one result per notification unit (recipient set, group,
// topic, ...). Results never influence whether other channels run.
type ChannelResult struct {
	Channel string
	// Target is the unit that was addressed: recipients, group name, topic.
	Target string
	OK     bool
	// Skipped is set when nothing was transmitted on purpose (duplicate,
	// missing routing value). Skipped results are OK.
	Skipped bool
	Detail  string
	// Marker is the audit key written onto the event, e.g. "delivered_email".
	Marker string
	// Value overrides the audit value; defaults to Target (or Detail on failure).
	Value interface{}
}

// MarkerValue returns the value stored under Marker on the event.
func (r ChannelResult) MarkerValue() interface{} {
	if r.Value != nil {
		return r.Value
	}
	if !r.OK {
		return r.Detail
	}
	if strings.Contains(r.Target, ",") {
		return strings.Split(r.Target, ",")
	}
	return r.Target
}

// Delivered builds a successful result with the conventional marker.
func Delivered(channel, target string) ChannelResult {
	return ChannelResult{
		Channel: channel,
		Target:  target,
		OK:      true,
		Marker:  "delivered_" + channel,
	}
}

// Failed builds a failed result with the conventional error marker.
func Failed(channel, target string, err error) ChannelResult {
	detail := "unknown error"
	if err != nil {
		detail = err.Error()
	}
	return ChannelResult{
		Channel: channel,
		Target:  target,
		OK:      false,
		Detail:  detail,
		Marker:  "delivered_" + channel + "_error",
	}
}

// Skipped builds an OK result for a unit that was intentionally not sent.
func Skipped(channel, target, reason string) ChannelResult {
	return ChannelResult{
		Channel: channel,
		Target:  target,
		OK:      true,
		Skipped: true,
		Detail:  reason,
	}
}

// DedupRecord is one idempotency record held by a dedup store.
type DedupRecord struct {
	PartitionKey string
	DedupID      string
	ExpireAt     int64
}

// DedupID builds the idempotency id for a notification unit. Identical
// content to identical recipients within one run collapses; any change of
// channel, policy, account, region or recipient produces a different id.
func DedupID(channel string, ev *Event, recipient string) string {
	policy := orDefault(ev.Policy.Name, "unknown")
	account := orDefault(ev.Account, "unknown")
	accountID := orDefault(ev.AccountID, account)
	region := orDefault(ev.Region, "unknown")
	return strings.Join([]string{channel, policy, accountID, account, region, recipient}, "|")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
