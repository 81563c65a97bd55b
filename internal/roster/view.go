package roster

import "jigaku-backend/internal/timefmt"

// Entry is one ranked leaderboard row.
type Entry struct {
	Rank             int    `json:"rank"`
	UserID           string `json:"user_id"`
	Name             string `json:"name"`
	TotalTimeStudied int64  `json:"total_time_studied"`
	Formatted        string `json:"formatted_time"`
	IsStudying       bool   `json:"is_studying"`
}

// Leaderboard is the wire form of a State.
type Leaderboard struct {
	Entries        []Entry `json:"entries"`
	StudyingCount  int     `json:"studying_count"`
	IsLoading      bool    `json:"is_loading"`
	Refreshing     bool    `json:"refreshing"`
	Error          string  `json:"error,omitempty"`
	HasInitialLoad bool    `json:"has_initial_load"`
}

// Leaderboard ranks users in their cached order, starting at 1.
func (s State) Leaderboard() Leaderboard {
	lb := Leaderboard{
		Entries:        make([]Entry, 0, len(s.Users)),
		IsLoading:      s.IsLoading,
		Refreshing:     s.Refreshing,
		Error:          s.Error,
		HasInitialLoad: s.HasInitialLoad,
	}
	for i, u := range s.Users {
		formatted, ok := s.FormattedTimes[u.UserID]
		if !ok {
			formatted = timefmt.Studied(u.TotalTimeStudied)
		}
		lb.Entries = append(lb.Entries, Entry{
			Rank:             i + 1,
			UserID:           u.UserID,
			Name:             u.Name,
			TotalTimeStudied: u.TotalTimeStudied,
			Formatted:        formatted,
			IsStudying:       u.IsStudying,
		})
		if u.IsStudying {
			lb.StudyingCount++
		}
	}
	return lb
}
