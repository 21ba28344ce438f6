package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/avolkov/hangman-service/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса игры в виселицу.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user", h.CreateUser)
		r.Get("/users/rankings", h.GetRankings)

		r.Post("/game", h.CreateGame)
		r.Route("/game/{key}", func(r chi.Router) {
			r.Get("/", h.GetGame)
			r.Put("/", h.MakeMove)
			r.Delete("/", h.CancelGame)
			r.Get("/history", h.GetGameHistory)
		})

		r.Get("/games/active/user/{name}", h.GetActiveGames)
		r.Get("/games/average_wrong_guesses_remaining", h.GetAverageWrongGuessesRemaining)

		r.Get("/scores", h.GetScores)
		r.Get("/scores/user/{name}", h.GetUserScores)
		r.Get("/high_scores", h.GetHighScores)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
