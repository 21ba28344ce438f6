// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/avolkov/hangman-service/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим именем.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrGameNotFound возвращается, если партия не найдена.
	ErrGameNotFound = errors.New("game not found")
	// ErrVersionConflict возвращается, если партия была изменена параллельным запросом.
	ErrVersionConflict = errors.New("game was modified concurrently")
)

// defaultHighScoresLimit используется, когда запрошенный размер выборки некорректен.
const defaultHighScoresLimit = 10

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, name, email string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (name, email) VALUES ($1, $2) RETURNING id`,
		name, email,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, name)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByName возвращает пользователя по имени.
func (r *PostgresRepository) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, email, wins, games_played, total_score, created_at
		 FROM users WHERE name = $1`,
		name,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Wins, &u.GamesPlayed, &u.TotalScore, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, email, wins, games_played, total_score, created_at
		 FROM users WHERE id = $1`,
		id,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Wins, &u.GamesPlayed, &u.TotalScore, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetRankedUsers возвращает пользователей хотя бы с одной сыгранной партией,
// упорядоченных по доле побед, среднему счёту и количеству партий.
func (r *PostgresRepository) GetRankedUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, email, wins, games_played, total_score, created_at
		 FROM users
		 WHERE games_played > 0
		 ORDER BY wins::float8 / games_played DESC,
		          total_score::float8 / games_played DESC,
		          games_played DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select ranked users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Wins, &u.GamesPlayed, &u.TotalScore, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return users, nil
}

// CreateGame сохраняет новую партию.
func (r *PostgresRepository) CreateGame(ctx context.Context, g *model.Game) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO games (key, user_id, target_word, correct_letters, progress,
		                    wrong_guesses_allowed, wrong_guesses_remaining,
		                    guess_history, game_over, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		g.Key, g.UserID, g.TargetWord, g.CorrectLetters, g.Progress,
		g.WrongGuessesAllowed, g.WrongGuessesRemaining,
		g.GuessHistory, g.GameOver, g.Version,
	).Scan(&g.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

// GetGame возвращает партию по ключу.
func (r *PostgresRepository) GetGame(ctx context.Context, key string) (*model.Game, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT key, user_id, target_word, correct_letters, progress,
		        wrong_guesses_allowed, wrong_guesses_remaining,
		        guess_history, game_over, version, created_at
		 FROM games WHERE key = $1`,
		key,
	)

	g, err := scanGame(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("get game: %w", err)
	}

	return g, nil
}

// UpdateGame сохраняет изменённое состояние партии. Запись обновляется только
// при совпадении версии, прочитанной вызывающей стороной; иначе возвращается
// ErrVersionConflict.
func (r *PostgresRepository) UpdateGame(ctx context.Context, g *model.Game) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE games
		 SET correct_letters = $2, progress = $3, wrong_guesses_remaining = $4,
		     guess_history = $5, game_over = $6, version = version + 1
		 WHERE key = $1 AND version = $7`,
		g.Key, g.CorrectLetters, g.Progress, g.WrongGuessesRemaining,
		g.GuessHistory, g.GameOver, g.Version,
	)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return r.classifyMissedUpdate(ctx, g.Key)
	}

	g.Version++
	return nil
}

// classifyMissedUpdate различает отсутствующую партию и конфликт версий.
func (r *PostgresRepository) classifyMissedUpdate(ctx context.Context, key string) error {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM games WHERE key = $1)`,
		key,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check game existence: %w", err)
	}
	if !exists {
		return ErrGameNotFound
	}
	return ErrVersionConflict
}

// DeleteGame удаляет партию по ключу.
func (r *PostgresRepository) DeleteGame(ctx context.Context, key string) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM games WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrGameNotFound
	}
	return nil
}

// GetActiveGamesByUser возвращает незавершённые партии пользователя.
func (r *PostgresRepository) GetActiveGamesByUser(ctx context.Context, userID int64) ([]model.Game, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT key, user_id, target_word, correct_letters, progress,
		        wrong_guesses_allowed, wrong_guesses_remaining,
		        guess_history, game_over, version, created_at
		 FROM games
		 WHERE user_id = $1 AND NOT game_over
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select active games: %w", err)
	}
	defer rows.Close()

	var games []model.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, *g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return games, nil
}

// FinalizeGame завершает партию одной транзакцией: помечает её завершённой,
// создаёт запись Score и обновляет статистику пользователя. Все три записи
// становятся видимыми либо вместе, либо никак.
func (r *PostgresRepository) FinalizeGame(ctx context.Context, g *model.Game, won bool) (*model.Score, error) {
	var score *model.Score

	err := r.withRetry(ctx, func() error {
		var txErr error
		score, txErr = r.finalizeGameTx(ctx, g, won)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	g.Version++
	return score, nil
}

func (r *PostgresRepository) finalizeGameTx(ctx context.Context, g *model.Game, won bool) (*model.Score, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`UPDATE games
		 SET correct_letters = $2, progress = $3, wrong_guesses_remaining = $4,
		     guess_history = $5, game_over = TRUE, version = version + 1
		 WHERE key = $1 AND version = $6 AND NOT game_over`,
		g.Key, g.CorrectLetters, g.Progress, g.WrongGuessesRemaining,
		g.GuessHistory, g.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("mark game over: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return nil, r.classifyMissedUpdate(ctx, g.Key)
	}

	score := &model.Score{
		UserID:       g.UserID,
		Won:          won,
		WrongGuesses: g.WrongGuessesAllowed - g.WrongGuessesRemaining,
		FinalScore:   g.WrongGuessesRemaining,
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO scores (user_id, date, won, wrong_guesses, final_score)
		 VALUES ($1, CURRENT_DATE, $2, $3, $4)
		 RETURNING id, date`,
		score.UserID, score.Won, score.WrongGuesses, score.FinalScore,
	).Scan(&score.ID, &score.Date)
	if err != nil {
		return nil, fmt.Errorf("insert score: %w", err)
	}

	if won {
		_, err = tx.Exec(ctx,
			`UPDATE users
			 SET wins = wins + 1, games_played = games_played + 1, total_score = total_score + $2
			 WHERE id = $1`,
			g.UserID, score.FinalScore,
		)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE users SET games_played = games_played + 1 WHERE id = $1`,
			g.UserID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("update user stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return score, nil
}

// GetScores возвращает все записи о результатах партий.
func (r *PostgresRepository) GetScores(ctx context.Context) ([]model.Score, error) {
	return r.queryScores(ctx,
		`SELECT id, user_id, date, won, wrong_guesses, final_score
		 FROM scores
		 ORDER BY date DESC, id DESC`,
	)
}

// GetScoresByUser возвращает записи о результатах партий пользователя.
func (r *PostgresRepository) GetScoresByUser(ctx context.Context, userID int64) ([]model.Score, error) {
	return r.queryScores(ctx,
		`SELECT id, user_id, date, won, wrong_guesses, final_score
		 FROM scores
		 WHERE user_id = $1
		 ORDER BY date DESC, id DESC`,
		userID,
	)
}

// GetHighScores возвращает лучшие результаты. При равном счёте победы
// стоят выше поражений.
func (r *PostgresRepository) GetHighScores(ctx context.Context, limit int) ([]model.Score, error) {
	if limit <= 0 {
		limit = defaultHighScoresLimit
	}
	return r.queryScores(ctx,
		`SELECT id, user_id, date, won, wrong_guesses, final_score
		 FROM scores
		 ORDER BY final_score DESC, won DESC, date DESC
		 LIMIT $1`,
		limit,
	)
}

func (r *PostgresRepository) queryScores(ctx context.Context, query string, args ...any) ([]model.Score, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select scores: %w", err)
	}
	defer rows.Close()

	var scores []model.Score
	for rows.Next() {
		var s model.Score
		if err := rows.Scan(&s.ID, &s.UserID, &s.Date, &s.Won, &s.WrongGuesses, &s.FinalScore); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return scores, nil
}

// AverageWrongGuessesRemaining возвращает среднее число оставшихся неверных
// попыток по незавершённым партиям и количество таких партий.
func (r *PostgresRepository) AverageWrongGuessesRemaining(ctx context.Context) (float64, int, error) {
	var avg float64
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(wrong_guesses_remaining), 0)::float8, COUNT(*)
		 FROM games
		 WHERE NOT game_over`,
	).Scan(&avg, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("average wrong guesses remaining: %w", err)
	}
	return avg, count, nil
}

type gameRow interface {
	Scan(dest ...any) error
}

func scanGame(row gameRow) (*model.Game, error) {
	var g model.Game
	err := row.Scan(
		&g.Key, &g.UserID, &g.TargetWord, &g.CorrectLetters, &g.Progress,
		&g.WrongGuessesAllowed, &g.WrongGuessesRemaining,
		&g.GuessHistory, &g.GameOver, &g.Version, &g.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}
