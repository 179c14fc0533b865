package notification

import "maps"

// Recognized metadata keys. Adapters and observers may attach arbitrary keys,
// but these are the ones the engine and the built-in tooling understand.
const (
	// MetaDeviceToken carries the push-provider device token for PUSH sends.
	MetaDeviceToken = "device_token"
	// MetaLocale carries the recipient locale hint (e.g. "en-US").
	MetaLocale = "locale"
	// MetaCampaignID links the notification to an originating campaign.
	MetaCampaignID = "campaign_id"
	// MetaSource names the business subsystem that produced the notification.
	MetaSource = "source"
)

// Metadata is a typed key/value container attached to a notification.
// It replaces untyped maps with an explicit, copyable value type so that
// snapshots never alias caller-owned state.
type Metadata map[string]string

// NewMetadata returns an empty metadata container.
func NewMetadata() Metadata {
	return make(Metadata)
}

// Get returns the value for key and whether it was present.
func (m Metadata) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Set stores a key/value pair, allocating the map if needed.
func (m *Metadata) Set(key, value string) {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
}

// Clone returns an independent copy of the metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
