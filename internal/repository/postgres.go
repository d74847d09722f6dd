package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flowtale/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	storyColumns = `id, title, genre, characters, nodes, root_node_id, current_node_id,
        is_complete, final_title, conclusion, created_at, updated_at`

	insertStoryQuery = `
        INSERT INTO stories (` + storyColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (id) DO NOTHING`

	getStoryQuery          = `SELECT ` + storyColumns + ` FROM stories WHERE id = $1`
	getStoryForUpdateQuery = getStoryQuery + ` FOR UPDATE`
	listStoriesQuery       = `SELECT ` + storyColumns + ` FROM stories ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`

	updateStoryQuery = `
        UPDATE stories SET
            title = $2, genre = $3, characters = $4, nodes = $5,
            root_node_id = $6, current_node_id = $7, is_complete = $8,
            final_title = $9, conclusion = $10, updated_at = $11
        WHERE id = $1`
)

var _ StoryRepository = (*PostgresStoryRepository)(nil)

// storyRow - строка таблицы stories. Узлы и персонажи хранятся в JSONB.
type storyRow struct {
	ID            string    `db:"id"`
	Title         string    `db:"title"`
	Genre         string    `db:"genre"`
	Characters    []byte    `db:"characters"`
	Nodes         []byte    `db:"nodes"`
	RootNodeID    string    `db:"root_node_id"`
	CurrentNodeID string    `db:"current_node_id"`
	IsComplete    bool      `db:"is_complete"`
	FinalTitle    string    `db:"final_title"`
	Conclusion    string    `db:"conclusion"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (row *storyRow) toModel() (*models.Story, error) {
	story := &models.Story{
		ID:            row.ID,
		Title:         row.Title,
		Genre:         row.Genre,
		RootNodeID:    row.RootNodeID,
		CurrentNodeID: row.CurrentNodeID,
		IsComplete:    row.IsComplete,
		FinalTitle:    row.FinalTitle,
		Conclusion:    row.Conclusion,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal(row.Nodes, &story.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes of story %s: %w", row.ID, err)
	}
	if len(row.Characters) > 0 {
		if err := json.Unmarshal(row.Characters, &story.Characters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal characters of story %s: %w", row.ID, err)
		}
		if len(story.Characters) == 0 {
			story.Characters = nil
		}
	}
	return story, nil
}

// storyArgs возвращает значения колонок в порядке storyColumns.
func storyArgs(story *models.Story) ([]interface{}, error) {
	nodes, err := json.Marshal(story.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal nodes: %w", err)
	}
	characters := story.Characters
	if characters == nil {
		characters = []models.StoryCharacter{}
	}
	charactersJSON, err := json.Marshal(characters)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal characters: %w", err)
	}
	return []interface{}{
		story.ID, story.Title, story.Genre, charactersJSON, nodes,
		story.RootNodeID, story.CurrentNodeID, story.IsComplete,
		story.FinalTitle, story.Conclusion, story.CreatedAt, story.UpdatedAt,
	}, nil
}

// PostgresStoryRepository хранит истории в PostgreSQL.
type PostgresStoryRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStoryRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStoryRepository {
	return &PostgresStoryRepository{
		pool:   pool,
		logger: logger.Named("PgStoryRepo"),
	}
}

func (r *PostgresStoryRepository) Add(ctx context.Context, story *models.Story) error {
	if err := validateNew(story); err != nil {
		return err
	}
	log := r.logger.With(zap.String("storyID", story.ID))

	args, err := storyArgs(story)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, insertStoryQuery, args...)
	if err != nil {
		log.Error("Failed to insert story", zap.Error(err))
		return fmt.Errorf("failed to insert story %s: %w", story.ID, err)
	}
	if tag.RowsAffected() == 0 {
		log.Warn("Story with this ID already exists")
		return fmt.Errorf("%w: %s", models.ErrStoryAlreadyExists, story.ID)
	}
	log.Debug("Story inserted")
	return nil
}

func (r *PostgresStoryRepository) Get(ctx context.Context, id string) (*models.Story, error) {
	return r.get(ctx, r.pool, getStoryQuery, id)
}

func (r *PostgresStoryRepository) get(ctx context.Context, querier pgxscan.Querier, query, id string) (*models.Story, error) {
	var row storyRow
	if err := pgxscan.Get(ctx, querier, &row, query, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrStoryNotFound, id)
		}
		r.logger.Error("Failed to get story", zap.String("storyID", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get story %s: %w", id, err)
	}
	return row.toModel()
}

// Update блокирует строку (SELECT ... FOR UPDATE), применяет patch и сохраняет результат в одной транзакции.
func (r *PostgresStoryRepository) Update(ctx context.Context, id string, patch StoryPatch) (*models.Story, error) {
	log := r.logger.With(zap.String("storyID", id))

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Warn("Failed to rollback transaction", zap.Error(rbErr))
		}
	}()

	stored, err := r.get(ctx, tx, getStoryForUpdateQuery, id)
	if err != nil {
		return nil, err
	}
	updated, err := applyPatch(stored, patch)
	if err != nil {
		return nil, err
	}

	args, err := storyArgs(updated)
	if err != nil {
		return nil, err
	}
	// id..conclusion совпадают с $1..$10, created_at не меняется
	updateArgs := append(args[:10:10], updated.UpdatedAt)
	if _, err := tx.Exec(ctx, updateStoryQuery, updateArgs...); err != nil {
		log.Error("Failed to update story", zap.Error(err))
		return nil, fmt.Errorf("failed to update story %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка коммита транзакции: %w", err)
	}
	log.Debug("Story updated", zap.String("currentNodeID", updated.CurrentNodeID))
	return updated, nil
}

func (r *PostgresStoryRepository) MarkComplete(ctx context.Context, id, finalTitle, conclusion string) (*models.Story, error) {
	return r.Update(ctx, id, completePatch(finalTitle, conclusion))
}

func (r *PostgresStoryRepository) List(ctx context.Context, limit, offset int) ([]*models.Story, error) {
	limit, offset = normalizePage(limit, offset)

	var rows []*storyRow
	if err := pgxscan.Select(ctx, r.pool, &rows, listStoriesQuery, limit, offset); err != nil {
		r.logger.Error("Failed to list stories", zap.Error(err))
		return nil, fmt.Errorf("failed to list stories: %w", err)
	}
	stories := make([]*models.Story, 0, len(rows))
	for _, row := range rows {
		story, err := row.toModel()
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	return stories, nil
}
