package achievement

import "context"

// Repository stores the catalogue and the unlock records.
type Repository interface {
	// ActiveDefinitions returns active definitions in catalogue order.
	ActiveDefinitions(ctx context.Context) ([]Definition, error)

	// UnlockedIDs returns the IDs of every achievement the user holds.
	UnlockedIDs(ctx context.Context, userID string) (map[string]struct{}, error)

	// IsUnlocked reports whether the user holds the achievement.
	IsUnlocked(ctx context.Context, userID, achievementID string) (bool, error)

	// Grant inserts ua unless a row for (UserID, AchievementID) exists.
	// created is false when the row was already present, including when a
	// concurrent writer won the race; that case is not an error.
	Grant(ctx context.Context, ua UserAchievement) (created bool, err error)
}
