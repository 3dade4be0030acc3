package goals

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goalkeeper/internal/database"
	"github.com/aristath/goalkeeper/internal/simulation"
)

// Repository handles goal and profile database operations against goals.db.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new goal repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "goals").Logger(),
	}
}

const goalColumns = `id, name, profile_id, target_amount, current_amount,
	monthly_contribution, horizon_years, risk_profile,
	goal_success_probability, simulation_parameters, created_at, updated_at`

// GetGoal returns one goal by ID.
func (r *Repository) GetGoal(id string) (*Goal, error) {
	row := r.db.QueryRow("SELECT "+goalColumns+" FROM goals WHERE id = ?", id)

	goal, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}
	if err != nil {
		return nil, classifyStoreError("get goal", err)
	}
	return goal, nil
}

// GetAllGoals returns all goals ordered by creation time.
func (r *Repository) GetAllGoals() ([]*Goal, error) {
	rows, err := r.db.Query("SELECT " + goalColumns + " FROM goals ORDER BY created_at")
	if err != nil {
		return nil, classifyStoreError("query goals", err)
	}
	defer rows.Close()

	var goals []*Goal
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, classifyStoreError("scan goal", err)
		}
		goals = append(goals, goal)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("iterate goals", err)
	}
	return goals, nil
}

// GetStaleGoals returns goals whose stored probability is missing or older
// than maxAge, candidates for a scheduled refresh.
func (r *Repository) GetStaleGoals(maxAge time.Duration) ([]*Goal, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	rows, err := r.db.Query(
		"SELECT "+goalColumns+" FROM goals WHERE goal_success_probability IS NULL OR updated_at < ?",
		cutoff,
	)
	if err != nil {
		return nil, classifyStoreError("query stale goals", err)
	}
	defer rows.Close()

	var goals []*Goal
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, classifyStoreError("scan goal", err)
		}
		goals = append(goals, goal)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError("iterate stale goals", err)
	}
	return goals, nil
}

// CreateGoal inserts a goal record.
func (r *Repository) CreateGoal(goal *Goal) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO goals (id, name, profile_id, target_amount, current_amount,
			monthly_contribution, horizon_years, risk_profile, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, goal.ID, goal.Name, goal.ProfileID, goal.TargetAmount, goal.CurrentAmount,
		goal.MonthlyContribution, goal.HorizonYears, goal.RiskProfile, now, now)
	if err != nil {
		return classifyStoreError("create goal", err)
	}
	return nil
}

// PersistProbability stores a computed result on its goal. The probability
// and the parameters it was computed from are written in one transaction so
// a reader never sees one without the other, and an existing probability is
// never replaced with NULL.
func (r *Repository) PersistProbability(goalID string, result *simulation.Result, req *simulation.Request) error {
	params, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode simulation parameters: %w", err)
	}

	probability := result.SafeSuccessProbability()

	err = database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE goals
			SET goal_success_probability = ?,
				simulation_parameters = ?,
				updated_at = ?
			WHERE id = ?
		`, probability, string(params), time.Now().Unix(), goalID)
		if err != nil {
			return err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrGoalNotFound, goalID)
		}
		return nil
	})
	if err != nil {
		return classifyStoreError("persist probability", err)
	}

	r.log.Debug().
		Str("goal_id", goalID).
		Float64("probability", probability).
		Msg("Persisted goal probability")
	return nil
}

// GetProfile returns one profile by ID with its JSON columns decoded.
func (r *Repository) GetProfile(id string) (*Profile, error) {
	var (
		p                         Profile
		assetClasses, allocations string
		createdAt, updatedAt      int64
	)
	err := r.db.QueryRow(`
		SELECT id, name, inflation_rate, expense_ratio, partial_target_fraction,
			default_trial_count, growth_model, asset_classes, allocations,
			created_at, updated_at
		FROM profiles WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.InflationRate, &p.ExpenseRatio, &p.PartialTargetFraction,
		&p.DefaultTrialCount, &p.GrowthModel, &assetClasses, &allocations,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	if err != nil {
		return nil, classifyStoreError("get profile", err)
	}

	if p.AssetClasses, err = parseAssetClasses(assetClasses); err != nil {
		return nil, err
	}
	if p.Allocations, err = parseAllocations(allocations); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// CreateProfile inserts a profile record with its JSON columns encoded.
func (r *Repository) CreateProfile(p *Profile) error {
	assetClasses, err := json.Marshal(p.AssetClasses)
	if err != nil {
		return fmt.Errorf("failed to encode asset classes: %w", err)
	}
	allocations, err := json.Marshal(p.Allocations)
	if err != nil {
		return fmt.Errorf("failed to encode allocations: %w", err)
	}

	now := time.Now().Unix()
	_, err = r.db.Exec(`
		INSERT INTO profiles (id, name, inflation_rate, expense_ratio,
			partial_target_fraction, default_trial_count, growth_model,
			asset_classes, allocations, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.InflationRate, p.ExpenseRatio, p.PartialTargetFraction,
		p.DefaultTrialCount, p.GrowthModel, string(assetClasses), string(allocations), now, now)
	if err != nil {
		return classifyStoreError("create profile", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanGoal(row scanner) (*Goal, error) {
	var (
		g                    Goal
		probability          sql.NullFloat64
		params               sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&g.ID, &g.Name, &g.ProfileID, &g.TargetAmount, &g.CurrentAmount,
		&g.MonthlyContribution, &g.HorizonYears, &g.RiskProfile,
		&probability, &params, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if probability.Valid {
		g.SuccessProbability = &probability.Float64
	}
	if params.Valid {
		g.SimulationParameters = &params.String
	}
	g.CreatedAt = time.Unix(createdAt, 0)
	g.UpdatedAt = time.Unix(updatedAt, 0)
	return &g, nil
}
