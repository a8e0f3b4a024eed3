package features

import "time"

// Predicate selects rows.
type Predicate func(Row) bool

// LastSeenBefore matches rows last seen strictly before t.
func LastSeenBefore(t time.Time) Predicate {
	return func(r Row) bool {
		return r.LastSeen.Before(t)
	}
}

// DaysSeenFewerThan matches rows observed on fewer than n distinct days.
func DaysSeenFewerThan(n int) Predicate {
	return func(r Row) bool {
		return len(r.DaysSeen) < n
	}
}

// HasReputation matches rows with the given ip_reputation.
func HasReputation(reputation string) Predicate {
	return func(r Row) bool {
		return r.IPReputation == reputation
	}
}

// Any matches rows matched by at least one of ps.
func Any(ps ...Predicate) Predicate {
	return func(r Row) bool {
		for _, p := range ps {
			if p(r) {
				return true
			}
		}
		return false
	}
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return func(r Row) bool {
		return !p(r)
	}
}
