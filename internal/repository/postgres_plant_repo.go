package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/plantdex/internal/model"
)

// PostgresPlantRepo はPostgreSQLを使用した植物レコードリポジトリ。
type PostgresPlantRepo struct {
	db *sql.DB
}

// NewPostgresPlantRepo はPostgresPlantRepoを生成する。
func NewPostgresPlantRepo(db *sql.DB) *PostgresPlantRepo {
	return &PostgresPlantRepo{db: db}
}

const plantColumns = `id, user_id, name, scientific_name, image_url, habitat, care_tips, created_at`

// ListByUserID はユーザーの植物レコードをID昇順で返す。
func (r *PostgresPlantRepo) ListByUserID(ctx context.Context, userID int64) ([]model.Plant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+plantColumns+`
		 FROM plants
		 WHERE user_id = $1
		 ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list plants: %w", err)
	}
	defer rows.Close()

	plants := []model.Plant{}
	for rows.Next() {
		var p model.Plant
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Name, &p.ScientificName,
			&p.ImageURL, &p.Habitat, &p.CareTips, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plant: %w", err)
		}
		plants = append(plants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plants: %w", err)
	}

	return plants, nil
}

// FindByID は指定IDの植物レコードを取得する。見つからない場合はnilを返す。
func (r *PostgresPlantRepo) FindByID(ctx context.Context, id int64) (*model.Plant, error) {
	p := &model.Plant{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+plantColumns+` FROM plants WHERE id = $1`,
		id,
	).Scan(
		&p.ID, &p.UserID, &p.Name, &p.ScientificName,
		&p.ImageURL, &p.Habitat, &p.CareTips, &p.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find plant: %w", err)
	}

	return p, nil
}

// Create は植物レコードを作成する。
// IDと作成日時はINSERT ... RETURNINGでDB側の原子的な採番結果を取得する。
func (r *PostgresPlantRepo) Create(ctx context.Context, userID int64, fields model.PlantFields) (*model.Plant, error) {
	p := &model.Plant{
		UserID:         userID,
		Name:           fields.Name,
		ScientificName: fields.ScientificName,
		ImageURL:       fields.ImageURL,
		Habitat:        fields.Habitat,
		CareTips:       fields.CareTips,
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO plants (user_id, name, scientific_name, image_url, habitat, care_tips)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		userID, fields.Name, fields.ScientificName, fields.ImageURL, fields.Habitat, fields.CareTips,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert plant: %w", err)
	}

	return p, nil
}

// Delete は指定IDの植物レコードを削除する。
func (r *PostgresPlantRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM plants WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete plant: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ PlantRepository = (*PostgresPlantRepo)(nil)
