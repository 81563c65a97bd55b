package roster

import (
	"sort"

	"jigaku-backend/internal/models"
	"jigaku-backend/internal/presence"
	"jigaku-backend/internal/timefmt"
)

// mergePresence copies users and applies snap. A user absent from the snapshot
// keeps its previous flag so a gap in the feed never hides anyone.
func mergePresence(users []models.UserRecord, snap presence.Snapshot) []models.UserRecord {
	merged := make([]models.UserRecord, len(users))
	copy(merged, users)

	for i := range merged {
		if studying, ok := snap[merged[i].UserID]; ok {
			merged[i].IsStudying = studying
		}
	}

	sortRoster(merged)
	return merged
}

// normalize drops repeated user ids (first wins) and sorts by total time.
func normalize(users []models.UserRecord) []models.UserRecord {
	seen := make(map[string]struct{}, len(users))
	out := make([]models.UserRecord, 0, len(users))
	for _, u := range users {
		if _, dup := seen[u.UserID]; dup {
			continue
		}
		seen[u.UserID] = struct{}{}
		out = append(out, u)
	}

	sortRoster(out)
	return out
}

func sortRoster(users []models.UserRecord) {
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].TotalTimeStudied > users[j].TotalTimeStudied
	})
}

func formatTimes(users []models.UserRecord) map[string]string {
	times := make(map[string]string, len(users))
	for _, u := range users {
		times[u.UserID] = timefmt.Studied(u.TotalTimeStudied)
	}
	return times
}
