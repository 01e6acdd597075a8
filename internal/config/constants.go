package config

const (
	// HistoryWindow is the number of trailing history messages rendered into
	// the prompt context.
	HistoryWindow = 10

	// RecentMessagesLimit is the number of messages fetched from the store
	// before the context is built. Kept independent of HistoryWindow on
	// purpose; do not fold the two together.
	RecentMessagesLimit = 50
)
