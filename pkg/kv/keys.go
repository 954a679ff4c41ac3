// Package kv defines the gateway's key-value contract and a Redis
// implementation: rate counters, pause flags, deferred-message
// scheduling, bounded history, token stats, and the style-profile
// cache, all keyed per the external interface's key schema.
package kv

import "relay/pkg/domain"

func counterKey(contact domain.ContactID) string {
	return "COUNTER:" + contact.String()
}

func pauseKeyGlobal() string {
	return "PAUSE:ALL"
}

func pauseKeyContact(contact domain.ContactID) string {
	return "PAUSE:" + contact.String()
}

func deferredMessagesKey() string {
	return "DEFERRED:messages"
}

func historyKey(contact domain.ContactID) string {
	return "HISTORY:" + contact.String()
}

func queueKey(name string) string {
	return "QUEUE:" + name
}

func statsTokensKey(dateKey string) string {
	return "STATS:tokens:" + dateKey
}

func cacheStyleKey(contact domain.ContactID) string {
	return "CACHE:style:" + contact.String()
}

func htsLastMessageKey(contact domain.ContactID) string {
	return "HTS:lastMessage:" + contact.String()
}
