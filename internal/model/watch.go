package model

// WatchedCollection maps a server-side table to the cache keys it affects.
// Static configuration; never mutated at runtime.
type WatchedCollection struct {
	// Name is the server-side table / entity group name.
	Name string

	// BaseKeys are the list-view cache keys reconciliation mutates and
	// invalidates for this collection.
	BaseKeys []string

	// DetailKeyPrefix is the prefix for single-row detail keys
	// ("<prefix><id>"). Empty if the collection has no detail views.
	DetailKeyPrefix string

	// AggregateKeys are derived/summary cache keys that depend on this
	// collection. They are invalidated on every mutation even though the
	// summary collections drive their own refresh through their own
	// events (belt and suspenders for views not on the watch list).
	AggregateKeys []string
}

// DetailKey returns the detail cache key for a row id, or "" when the
// collection has no detail views.
func (w WatchedCollection) DetailKey(id string) string {
	if w.DetailKeyPrefix == "" || id == "" {
		return ""
	}
	return w.DetailKeyPrefix + id
}

// Watched collection names.
const (
	CollectionHabitEntries     = "habit_entries"
	CollectionHabits           = "habits"
	CollectionFriendships      = "friendships"
	CollectionCoachMessages    = "coach_messages"
	CollectionAccounts         = "accounts"
	CollectionStreakSummaries  = "streak_summaries"
	CollectionReactions        = "reactions"
	CollectionChallenges       = "challenges"
	CollectionChallengeMembers = "challenge_members"
	CollectionNotifications    = "notifications"
)

// Well-known cache keys.
const (
	KeyHabitEntries       = "habit_entries"
	KeyHabits             = "habits"
	KeyFriendshipsPending = "friendships/pending"
	KeyFriendshipsActive  = "friendships/accepted"
	KeyCoachThread        = "coach_messages/thread"
	KeyAccountSelf        = "accounts/self"
	KeyStreakSummary      = "streak_summaries/self"
	KeyReactions          = "reactions"
	KeyChallenges         = "challenges"
	KeyChallengeMembers   = "challenge_members"
	KeyNotifications      = "notifications"
)

// WatchList returns the production watch list: one entry per collection the
// client subscribes to, with its cache-key fan-out.
func WatchList() []WatchedCollection {
	return []WatchedCollection{
		{
			Name:            CollectionHabitEntries,
			BaseKeys:        []string{KeyHabitEntries},
			DetailKeyPrefix: "habit_entries/",
			AggregateKeys:   []string{KeyStreakSummary},
		},
		{
			Name:            CollectionHabits,
			BaseKeys:        []string{KeyHabits},
			DetailKeyPrefix: "habits/",
			AggregateKeys:   []string{KeyStreakSummary},
		},
		{
			Name:     CollectionFriendships,
			BaseKeys: []string{KeyFriendshipsPending, KeyFriendshipsActive},
		},
		{
			Name:            CollectionCoachMessages,
			BaseKeys:        []string{KeyCoachThread},
			DetailKeyPrefix: "coach_messages/",
		},
		{
			Name:            CollectionAccounts,
			BaseKeys:        []string{KeyAccountSelf},
			DetailKeyPrefix: "accounts/",
		},
		{
			Name:     CollectionStreakSummaries,
			BaseKeys: []string{KeyStreakSummary},
		},
		{
			Name:          CollectionReactions,
			BaseKeys:      []string{KeyReactions},
			AggregateKeys: []string{KeyNotifications},
		},
		{
			Name:            CollectionChallenges,
			BaseKeys:        []string{KeyChallenges},
			DetailKeyPrefix: "challenges/",
		},
		{
			Name:          CollectionChallengeMembers,
			BaseKeys:      []string{KeyChallengeMembers},
			AggregateKeys: []string{KeyChallenges},
		},
		{
			Name:     CollectionNotifications,
			BaseKeys: []string{KeyNotifications},
		},
	}
}

// WatchMap returns the watch list indexed by collection name.
func WatchMap() map[string]WatchedCollection {
	list := WatchList()
	m := make(map[string]WatchedCollection, len(list))
	for _, w := range list {
		m[w.Name] = w
	}
	return m
}
