package cache

// Keys renders the counter store key schema, optionally under a namespace
type Keys struct {
	prefix string
}

// NewKeys creates a key schema; an empty namespace yields the bare keys
func NewKeys(namespace string) Keys {
	if namespace == "" {
		return Keys{}
	}
	return Keys{prefix: namespace + ":"}
}

func (k Keys) namespaceKey(key string) string {
	return k.prefix + key
}

// ContentCounter is the hash of one metric (views, likes, ...) keyed by content ID
func (k Keys) ContentCounter(metric string) string {
	return k.namespaceKey("content:" + metric)
}

// ContentHeat is the sorted set of content IDs by heat score
func (k Keys) ContentHeat() string {
	return k.namespaceKey("content:heat")
}

// ContentLastInteraction is the hash of last interaction epoch ms keyed by content ID
func (k Keys) ContentLastInteraction() string {
	return k.namespaceKey("content:last_interaction")
}

// ContentCreatedAt is the hash of immutable creation epoch ms keyed by content ID
func (k Keys) ContentCreatedAt() string {
	return k.namespaceKey("content:created_at")
}

// UserCheckIn is the set of day keys a user has checked in on
func (k Keys) UserCheckIn(userID string) string {
	return k.namespaceKey("user:checkin:" + userID)
}

// UserConsecutive holds the current streak
func (k Keys) UserConsecutive(userID string) string {
	return k.namespaceKey("user:consecutive:" + userID)
}

// UserTotalCheckIns holds the lifetime check-in count
func (k Keys) UserTotalCheckIns(userID string) string {
	return k.namespaceKey("user:total_checkins:" + userID)
}

// UserPoints holds the points balance
func (k Keys) UserPoints(userID string) string {
	return k.namespaceKey("user:points:" + userID)
}

// UserLastCheckIn holds the epoch ms of the last successful check-in
func (k Keys) UserLastCheckIn(userID string) string {
	return k.namespaceKey("user:last_checkin:" + userID)
}

// UserLocation holds the cached geolocation JSON
func (k Keys) UserLocation(userID string) string {
	return k.namespaceKey("user:location:" + userID)
}
