// Package handler содержит HTTP-обработчики API сервиса игры в виселицу.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avolkov/hangman-service/internal/game"
	"github.com/avolkov/hangman-service/internal/model"
	"github.com/avolkov/hangman-service/internal/repository"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateUser(ctx context.Context, name, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	GetRankings(ctx context.Context) ([]model.User, error)
	CreateGame(ctx context.Context, userName, targetWord string) (*model.Game, error)
	GetGame(ctx context.Context, key string) (*model.Game, error)
	MakeMove(ctx context.Context, key, guess string) (*model.Game, string, error)
	CancelGame(ctx context.Context, key string) error
	GetGameHistory(ctx context.Context, key string) ([]model.GuessRecord, error)
	GetActiveGamesByUser(ctx context.Context, userName string) ([]model.Game, error)
	GetScores(ctx context.Context) ([]model.Score, error)
	GetScoresByUser(ctx context.Context, userName string) ([]model.Score, error)
	GetHighScores(ctx context.Context, limit int) ([]model.Score, error)
	AverageWrongGuessesRemaining() string
}

// Handler реализует HTTP-обработчики API сервиса игры в виселицу.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

type createUserRequest struct {
	UserName string `json:"user_name"`
	Email    string `json:"email"`
}

type userResponse struct {
	Name          string  `json:"name"`
	Email         string  `json:"email,omitempty"`
	Wins          int64   `json:"wins"`
	GamesPlayed   int64   `json:"games_played"`
	TotalScore    int64   `json:"total_score"`
	WinPercentage float64 `json:"win_percentage"`
	AverageScore  float64 `json:"average_score"`
}

type newGameRequest struct {
	UserName   string `json:"user_name"`
	TargetWord string `json:"target_word"`
}

type gameResponse struct {
	Key                   string `json:"key"`
	UserName              string `json:"user_name"`
	TargetWordLength      int    `json:"target_word_length"`
	TargetWordProgress    string `json:"target_word_progress"`
	WrongGuessesRemaining int    `json:"wrong_guesses_remaining"`
	GameOver              bool   `json:"game_over"`
	Message               string `json:"message"`
}

type makeMoveRequest struct {
	Guess string `json:"guess"`
}

type scoreResponse struct {
	UserName     string `json:"user_name"`
	Date         string `json:"date"`
	Won          bool   `json:"won"`
	WrongGuesses int    `json:"wrong_guesses"`
	FinalScore   int    `json:"final_score"`
}

// CreateUser обрабатывает создание пользователя с уникальным именем.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.UserName == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.CreateUser(r.Context(), req.UserName, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("create user error", zap.Error(err), zap.String("name", req.UserName))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, messageResponse{
		Message: fmt.Sprintf("User %s created!", user.Name),
	})
}

// GetRankings возвращает игроков с сыгранными партиями, упорядоченных по рейтингу.
func (h *Handler) GetRankings(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.GetRankings(r.Context())
	if err != nil {
		h.logger.Error("get rankings error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(users) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		u := &users[i]
		resp = append(resp, userResponse{
			Name:          u.Name,
			Email:         u.Email,
			Wins:          u.Wins,
			GamesPlayed:   u.GamesPlayed,
			TotalScore:    u.TotalScore,
			WinPercentage: u.WinPercentage(),
			AverageScore:  u.AverageScore(),
		})
	}

	h.writeJSON(w, resp)
}

// CreateGame создаёт новую партию.
func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req newGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.UserName == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	g, err := h.service.CreateGame(r.Context(), req.UserName, req.TargetWord)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, game.ErrInvalidWord), errors.Is(err, game.ErrWordTooShort):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("create game error", zap.Error(err), zap.String("user", req.UserName))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeGame(w, r, g, "Good luck playing Hangman!")
}

// GetGame возвращает текущее состояние партии.
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	g, err := h.service.GetGame(r.Context(), key)
	if err != nil {
		h.gameError(w, err, key)
		return
	}

	msg := "Time to guess a letter!"
	if g.GameOver {
		msg = "Game is over!"
	}

	h.writeGame(w, r, g, msg)
}

// MakeMove применяет ход к партии.
func (h *Handler) MakeMove(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req makeMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	g, msg, err := h.service.MakeMove(r.Context(), key, req.Guess)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrGameNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, game.ErrGameOver), errors.Is(err, game.ErrInvalidGuess):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, game.ErrDuplicateGuess), errors.Is(err, repository.ErrVersionConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.logger.Error("make move error", zap.Error(err), zap.String("game", key))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeGame(w, r, g, msg)
}

// CancelGame удаляет незавершённую партию.
func (h *Handler) CancelGame(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	err := h.service.CancelGame(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrGameNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, game.ErrGameOver):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("cancel game error", zap.Error(err), zap.String("game", key))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, messageResponse{
		Message: fmt.Sprintf("Game %s deleted!", key),
	})
}

// GetGameHistory возвращает историю ходов партии.
func (h *Handler) GetGameHistory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	history, err := h.service.GetGameHistory(r.Context(), key)
	if err != nil {
		h.gameError(w, err, key)
		return
	}

	if history == nil {
		history = []model.GuessRecord{}
	}

	h.writeJSON(w, history)
}

// GetActiveGames возвращает незавершённые партии пользователя.
func (h *Handler) GetActiveGames(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	games, err := h.service.GetActiveGamesByUser(r.Context(), name)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("get active games error", zap.Error(err), zap.String("user", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(games) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]gameResponse, 0, len(games))
	for i := range games {
		resp = append(resp, gameForm(&games[i], name, "Active game"))
	}

	h.writeJSON(w, resp)
}

// GetAverageWrongGuessesRemaining возвращает кэшированное среднее по активным партиям.
func (h *Handler) GetAverageWrongGuessesRemaining(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, messageResponse{
		Message: h.service.AverageWrongGuessesRemaining(),
	})
}

// GetScores возвращает все результаты партий.
func (h *Handler) GetScores(w http.ResponseWriter, r *http.Request) {
	scores, err := h.service.GetScores(r.Context())
	if err != nil {
		h.logger.Error("get scores error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeScores(w, r, scores)
}

// GetUserScores возвращает результаты партий пользователя.
func (h *Handler) GetUserScores(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	scores, err := h.service.GetScoresByUser(r.Context(), name)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("get user scores error", zap.Error(err), zap.String("user", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeScores(w, r, scores)
}

// GetHighScores возвращает лучшие результаты партий.
func (h *Handler) GetHighScores(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	scores, err := h.service.GetHighScores(r.Context(), limit)
	if err != nil {
		h.logger.Error("get high scores error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeScores(w, r, scores)
}

func (h *Handler) writeGame(w http.ResponseWriter, r *http.Request, g *model.Game, msg string) {
	name, err := h.resolveUserName(r.Context(), g.UserID, nil)
	if err != nil {
		h.logger.Error("resolve user name error", zap.Error(err), zap.Int64("userID", g.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, gameForm(g, name, msg))
}

func (h *Handler) writeScores(w http.ResponseWriter, r *http.Request, scores []model.Score) {
	if len(scores) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	names := map[int64]string{}
	resp := make([]scoreResponse, 0, len(scores))
	for _, s := range scores {
		name, err := h.resolveUserName(r.Context(), s.UserID, names)
		if err != nil {
			h.logger.Error("resolve user name error", zap.Error(err), zap.Int64("userID", s.UserID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		resp = append(resp, scoreResponse{
			UserName:     name,
			Date:         s.Date.Format("2006-01-02"),
			Won:          s.Won,
			WrongGuesses: s.WrongGuesses,
			FinalScore:   s.FinalScore,
		})
	}

	h.writeJSON(w, resp)
}

func (h *Handler) resolveUserName(ctx context.Context, userID int64, seen map[int64]string) (string, error) {
	if seen != nil {
		if name, ok := seen[userID]; ok {
			return name, nil
		}
	}

	user, err := h.service.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}

	if seen != nil {
		seen[userID] = user.Name
	}
	return user.Name, nil
}

func (h *Handler) gameError(w http.ResponseWriter, err error, key string) {
	if errors.Is(err, repository.ErrGameNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error("get game error", zap.Error(err), zap.String("game", key))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// gameForm строит внешнее представление партии. Загаданное слово наружу не отдаётся.
func gameForm(g *model.Game, userName, msg string) gameResponse {
	return gameResponse{
		Key:                   g.Key,
		UserName:              userName,
		TargetWordLength:      len(g.TargetWord),
		TargetWordProgress:    g.Progress,
		WrongGuessesRemaining: g.WrongGuessesRemaining,
		GameOver:              g.GameOver,
		Message:               msg,
	}
}
