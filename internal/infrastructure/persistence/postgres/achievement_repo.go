package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/edumastery/mastery-engine/internal/domain/achievement"
	"github.com/edumastery/mastery-engine/internal/domain/shared"
)

// AchievementRepository implements achievement.Repository using PostgreSQL.
type AchievementRepository struct {
	db Querier
}

var _ achievement.Repository = (*AchievementRepository)(nil)

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(db Querier) *AchievementRepository {
	return &AchievementRepository{db: db}
}

const (
	queryActiveDefinitions = `
		SELECT id, name, description, icon_name, category, points, criteria, is_active, created_at
		FROM achievements
		WHERE is_active
		ORDER BY created_at, id`

	queryUnlockedIDs = `
		SELECT achievement_id FROM user_achievements WHERE user_id = $1`

	queryIsUnlocked = `
		SELECT EXISTS (
			SELECT 1 FROM user_achievements WHERE user_id = $1 AND achievement_id = $2
		)`

	queryGrant = `
		INSERT INTO user_achievements (id, user_id, achievement_id, unlocked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, achievement_id) DO NOTHING`

	queryUpsertDefinition = `
		INSERT INTO achievements (id, name, description, icon_name, category, points, criteria, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			icon_name = EXCLUDED.icon_name,
			category = EXCLUDED.category,
			points = EXCLUDED.points,
			criteria = EXCLUDED.criteria,
			is_active = EXCLUDED.is_active`
)

func storageErr(op string, err error) error {
	return shared.WrapError("achievement", op, shared.ErrStorage, "query failed", err)
}

// ActiveDefinitions implements achievement.Repository.
func (r *AchievementRepository) ActiveDefinitions(ctx context.Context) ([]achievement.Definition, error) {
	defs, err := queryAll(ctx, r.db, queryActiveDefinitions, func(rows pgx.Rows) (achievement.Definition, error) {
		var (
			d        achievement.Definition
			criteria []byte
		)
		err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.IconName, &d.Category,
			&d.Points, &criteria, &d.IsActive, &d.CreatedAt)
		d.Criteria = json.RawMessage(criteria)
		return d, err
	})
	if err != nil {
		return nil, storageErr("ActiveDefinitions", err)
	}
	return defs, nil
}

// UnlockedIDs implements achievement.Repository.
func (r *AchievementRepository) UnlockedIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	ids, err := queryAll(ctx, r.db, queryUnlockedIDs, scanString, userID)
	if err != nil {
		return nil, storageErr("UnlockedIDs", err)
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// IsUnlocked implements achievement.Repository.
func (r *AchievementRepository) IsUnlocked(ctx context.Context, userID, achievementID string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, queryIsUnlocked, userID, achievementID).Scan(&exists); err != nil {
		return false, storageErr("IsUnlocked", err)
	}
	return exists, nil
}

// Grant implements achievement.Repository. The unique constraint decides
// which of several concurrent writers creates the row.
func (r *AchievementRepository) Grant(ctx context.Context, ua achievement.UserAchievement) (bool, error) {
	if ua.ID == "" || ua.UserID == "" || ua.AchievementID == "" {
		return false, shared.NewDomainError("achievement", "Grant", shared.ErrInvalidInput, "id, user and achievement IDs are required")
	}

	tag, err := r.db.Exec(ctx, queryGrant, ua.ID, ua.UserID, ua.AchievementID, ua.UnlockedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, storageErr("Grant", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertDefinition creates or replaces a catalogue entry. Used to seed the
// catalogue; evaluation never writes definitions.
func (r *AchievementRepository) UpsertDefinition(ctx context.Context, d achievement.Definition) error {
	criteria := []byte(d.Criteria)
	if len(criteria) == 0 {
		criteria = []byte("{}")
	}
	_, err := r.db.Exec(ctx, queryUpsertDefinition,
		d.ID, d.Name, d.Description, d.IconName, d.Category, d.Points, criteria, d.IsActive)
	if err != nil {
		return storageErr("UpsertDefinition", err)
	}
	return nil
}
