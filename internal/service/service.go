// Package service реализует бизнес-логику сервиса игры в виселицу.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avolkov/hangman-service/internal/cache"
	"github.com/avolkov/hangman-service/internal/game"
	"github.com/avolkov/hangman-service/internal/model"
)

// cacheRecomputeInterval задаёт период планового пересчёта кэшируемого среднего.
const cacheRecomputeInterval = 30 * time.Second

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, name, email string) (int64, error)
	GetUserByName(ctx context.Context, name string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetRankedUsers(ctx context.Context) ([]model.User, error)
	CreateGame(ctx context.Context, g *model.Game) error
	GetGame(ctx context.Context, key string) (*model.Game, error)
	UpdateGame(ctx context.Context, g *model.Game) error
	DeleteGame(ctx context.Context, key string) error
	GetActiveGamesByUser(ctx context.Context, userID int64) ([]model.Game, error)
	FinalizeGame(ctx context.Context, g *model.Game, won bool) (*model.Score, error)
	GetScores(ctx context.Context) ([]model.Score, error)
	GetScoresByUser(ctx context.Context, userID int64) ([]model.Score, error)
	GetHighScores(ctx context.Context, limit int) ([]model.Score, error)
	AverageWrongGuessesRemaining(ctx context.Context) (float64, int, error)
}

// Service содержит бизнес-логику сервиса игры в виселицу.
type Service struct {
	repo         Repository
	averageCache *cache.AverageCache
	recompute    chan struct{}
	logger       *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием и кэшем статистики.
func NewService(repo Repository, averageCache *cache.AverageCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:         repo,
		averageCache: averageCache,
		recompute:    make(chan struct{}, 1),
		logger:       logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateUser создаёт пользователя с уникальным именем.
func (s *Service) CreateUser(ctx context.Context, name, email string) (*model.User, error) {
	id, err := s.repo.CreateUser(ctx, name, email)
	if err != nil {
		return nil, err
	}
	return s.repo.GetUserByID(ctx, id)
}

// GetUserByName возвращает пользователя по имени.
func (s *Service) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	return s.repo.GetUserByName(ctx, name)
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Service) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// GetRankings возвращает игроков, упорядоченных по доле побед.
func (s *Service) GetRankings(ctx context.Context) ([]model.User, error) {
	return s.repo.GetRankedUsers(ctx)
}

// CreateGame создаёт новую партию для пользователя с указанным именем.
// После сохранения партии инициируется фоновый пересчёт кэшируемого среднего;
// его результат на успех создания не влияет.
func (s *Service) CreateGame(ctx context.Context, userName, targetWord string) (*model.Game, error) {
	user, err := s.repo.GetUserByName(ctx, userName)
	if err != nil {
		return nil, err
	}

	g, err := game.New(user.ID, targetWord)
	if err != nil {
		return nil, err
	}
	g.Key = uuid.NewString()

	if err := s.repo.CreateGame(ctx, g); err != nil {
		return nil, err
	}

	s.signalRecompute()

	return g, nil
}

// GetGame возвращает партию по ключу.
func (s *Service) GetGame(ctx context.Context, key string) (*model.Game, error) {
	return s.repo.GetGame(ctx, key)
}

// MakeMove применяет ход к партии и возвращает обновлённую партию и сообщение
// для игрока. Завершающий ход фиксируется транзакционно: отметка о завершении,
// запись Score и обновление статистики пользователя происходят вместе.
func (s *Service) MakeMove(ctx context.Context, key, guess string) (*model.Game, string, error) {
	g, err := s.repo.GetGame(ctx, key)
	if err != nil {
		return nil, "", err
	}

	msg, err := game.ApplyGuess(g, guess)
	if err != nil {
		return nil, "", err
	}

	if g.GameOver {
		if _, err := s.repo.FinalizeGame(ctx, g, game.Won(g)); err != nil {
			return nil, "", fmt.Errorf("finalize game: %w", err)
		}
	} else {
		if err := s.repo.UpdateGame(ctx, g); err != nil {
			return nil, "", err
		}
	}

	return g, msg, nil
}

// CancelGame удаляет незавершённую партию. Завершённую партию удалить нельзя.
func (s *Service) CancelGame(ctx context.Context, key string) error {
	g, err := s.repo.GetGame(ctx, key)
	if err != nil {
		return err
	}
	if g.GameOver {
		return game.ErrGameOver
	}
	return s.repo.DeleteGame(ctx, key)
}

// GetGameHistory возвращает историю ходов партии.
func (s *Service) GetGameHistory(ctx context.Context, key string) ([]model.GuessRecord, error) {
	g, err := s.repo.GetGame(ctx, key)
	if err != nil {
		return nil, err
	}
	return g.GuessHistory, nil
}

// GetActiveGamesByUser возвращает незавершённые партии пользователя.
func (s *Service) GetActiveGamesByUser(ctx context.Context, userName string) ([]model.Game, error) {
	user, err := s.repo.GetUserByName(ctx, userName)
	if err != nil {
		return nil, err
	}
	return s.repo.GetActiveGamesByUser(ctx, user.ID)
}

// GetScores возвращает все записи о результатах партий.
func (s *Service) GetScores(ctx context.Context) ([]model.Score, error) {
	return s.repo.GetScores(ctx)
}

// GetScoresByUser возвращает результаты партий пользователя.
func (s *Service) GetScoresByUser(ctx context.Context, userName string) ([]model.Score, error) {
	user, err := s.repo.GetUserByName(ctx, userName)
	if err != nil {
		return nil, err
	}
	return s.repo.GetScoresByUser(ctx, user.ID)
}

// GetHighScores возвращает лучшие результаты партий.
func (s *Service) GetHighScores(ctx context.Context, limit int) ([]model.Score, error) {
	return s.repo.GetHighScores(ctx, limit)
}

// AverageWrongGuessesRemaining возвращает кэшированное среднее число
// оставшихся неверных попыток по активным партиям в виде готового сообщения.
// Пустая строка означает, что пересчёт ещё не выполнялся.
func (s *Service) AverageWrongGuessesRemaining() string {
	if s.averageCache == nil {
		return ""
	}
	avg, _, ok := s.averageCache.Get()
	if !ok {
		return ""
	}
	return fmt.Sprintf("The average wrong guesses remaining is %.2f", avg)
}

// StartCacheUpdates запускает фоновый пересчёт кэшируемого среднего.
// Пересчёт выполняется по таймеру и по сигналу о создании новой партии.
func (s *Service) StartCacheUpdates(ctx context.Context) {
	if s.averageCache == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(cacheRecomputeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.recomputeAverage(ctx)
			case <-s.recompute:
				s.recomputeAverage(ctx)
			}
		}
	}()
}

func (s *Service) signalRecompute() {
	select {
	case s.recompute <- struct{}{}:
	default:
	}
}

func (s *Service) recomputeAverage(ctx context.Context) {
	avg, count, err := s.repo.AverageWrongGuessesRemaining(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("recompute average wrong guesses remaining", zap.Error(err))
		}
		return
	}
	s.averageCache.Set(avg, count)
}
