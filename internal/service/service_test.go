package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/avolkov/hangman-service/internal/cache"
	"github.com/avolkov/hangman-service/internal/game"
	"github.com/avolkov/hangman-service/internal/model"
	"github.com/avolkov/hangman-service/internal/repository"
)

type stubRepo struct {
	users map[string]*model.User
	games map[string]*model.Game

	createdGames  int
	updateCalls   int
	finalizeCalls int
	finalizeWon   bool
	deleteCalls   int

	average      float64
	averageGames int
	averageErr   error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users: map[string]*model.User{},
		games: map[string]*model.Game{},
	}
}

func (s *stubRepo) addUser(u *model.User) {
	s.users[u.Name] = u
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, name, email string) (int64, error) {
	if _, ok := s.users[name]; ok {
		return 0, repository.ErrUserExists
	}
	u := &model.User{ID: int64(len(s.users) + 1), Name: name, Email: email}
	s.users[name] = u
	return u.ID, nil
}

func (s *stubRepo) GetUserByName(ctx context.Context, name string) (*model.User, error) {
	u, ok := s.users[name]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return u, nil
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) GetRankedUsers(ctx context.Context) ([]model.User, error) {
	return nil, nil
}

func (s *stubRepo) CreateGame(ctx context.Context, g *model.Game) error {
	s.createdGames++
	s.games[g.Key] = g
	return nil
}

func (s *stubRepo) GetGame(ctx context.Context, key string) (*model.Game, error) {
	g, ok := s.games[key]
	if !ok {
		return nil, repository.ErrGameNotFound
	}
	copied := *g
	return &copied, nil
}

func (s *stubRepo) UpdateGame(ctx context.Context, g *model.Game) error {
	s.updateCalls++
	stored, ok := s.games[g.Key]
	if !ok {
		return repository.ErrGameNotFound
	}
	if stored.Version != g.Version {
		return repository.ErrVersionConflict
	}
	g.Version++
	copied := *g
	s.games[g.Key] = &copied
	return nil
}

func (s *stubRepo) DeleteGame(ctx context.Context, key string) error {
	s.deleteCalls++
	if _, ok := s.games[key]; !ok {
		return repository.ErrGameNotFound
	}
	delete(s.games, key)
	return nil
}

func (s *stubRepo) GetActiveGamesByUser(ctx context.Context, userID int64) ([]model.Game, error) {
	var res []model.Game
	for _, g := range s.games {
		if g.UserID == userID && !g.GameOver {
			res = append(res, *g)
		}
	}
	return res, nil
}

func (s *stubRepo) FinalizeGame(ctx context.Context, g *model.Game, won bool) (*model.Score, error) {
	s.finalizeCalls++
	s.finalizeWon = won

	stored, ok := s.games[g.Key]
	if !ok {
		return nil, repository.ErrGameNotFound
	}
	if stored.Version != g.Version {
		return nil, repository.ErrVersionConflict
	}

	g.Version++
	copied := *g
	s.games[g.Key] = &copied

	score := &model.Score{
		UserID:       g.UserID,
		Won:          won,
		WrongGuesses: g.WrongGuessesAllowed - g.WrongGuessesRemaining,
		FinalScore:   g.WrongGuessesRemaining,
	}

	for _, u := range s.users {
		if u.ID == g.UserID {
			u.GamesPlayed++
			if won {
				u.Wins++
				u.TotalScore += int64(score.FinalScore)
			}
		}
	}

	return score, nil
}

func (s *stubRepo) GetScores(ctx context.Context) ([]model.Score, error) {
	return nil, nil
}

func (s *stubRepo) GetScoresByUser(ctx context.Context, userID int64) ([]model.Score, error) {
	return nil, nil
}

func (s *stubRepo) GetHighScores(ctx context.Context, limit int) ([]model.Score, error) {
	return nil, nil
}

func (s *stubRepo) AverageWrongGuessesRemaining(ctx context.Context) (float64, int, error) {
	return s.average, s.averageGames, s.averageErr
}

func TestCreateGame_UserNotFound(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, nil, nil)

	_, err := svc.CreateGame(context.Background(), "ghost", "elephant")
	if !errors.Is(err, repository.ErrUserNotFound) {
		t.Fatalf("error = %v, want ErrUserNotFound", err)
	}
	if repo.createdGames != 0 {
		t.Fatalf("game must not be persisted when the user is missing")
	}
}

func TestCreateGame_InvalidWordNotPersisted(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(&model.User{ID: 1, Name: "alice"})
	svc := NewService(repo, nil, nil)

	if _, err := svc.CreateGame(context.Background(), "alice", "cat"); !errors.Is(err, game.ErrWordTooShort) {
		t.Fatalf("error = %v, want ErrWordTooShort", err)
	}
	if _, err := svc.CreateGame(context.Background(), "alice", "eleph4nt"); !errors.Is(err, game.ErrInvalidWord) {
		t.Fatalf("error = %v, want ErrInvalidWord", err)
	}
	if repo.createdGames != 0 {
		t.Fatalf("invalid games must not be persisted")
	}
}

func TestCreateGame_Success(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(&model.User{ID: 1, Name: "alice"})
	svc := NewService(repo, nil, nil)

	g, err := svc.CreateGame(context.Background(), "alice", "Elephant")
	if err != nil {
		t.Fatalf("CreateGame error: %v", err)
	}

	if g.Key == "" {
		t.Fatalf("game key must be assigned")
	}
	if g.TargetWord != "elephant" {
		t.Fatalf("TargetWord = %q, want lowercased", g.TargetWord)
	}
	if g.Progress != strings.Repeat("*", 8) {
		t.Fatalf("Progress = %q, want all masked", g.Progress)
	}
	if g.WrongGuessesRemaining != 10 || g.GameOver {
		t.Fatalf("unexpected initial state: %+v", g)
	}
	if repo.createdGames != 1 {
		t.Fatalf("game must be persisted exactly once")
	}
}

func TestMakeMove_NonTerminalUpdatesGame(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(&model.User{ID: 1, Name: "alice"})
	svc := NewService(repo, nil, nil)

	created, err := svc.CreateGame(context.Background(), "alice", "elephant")
	if err != nil {
		t.Fatalf("CreateGame error: %v", err)
	}

	g, msg, err := svc.MakeMove(context.Background(), created.Key, "e")
	if err != nil {
		t.Fatalf("MakeMove error: %v", err)
	}

	if msg != "Correct letter guess!" {
		t.Fatalf("message = %q", msg)
	}
	if g.Progress != "e*e*****" {
		t.Fatalf("Progress = %q", g.Progress)
	}
	if repo.updateCalls != 1 || repo.finalizeCalls != 0 {
		t.Fatalf("update calls = %d, finalize calls = %d, want 1 and 0", repo.updateCalls, repo.finalizeCalls)
	}

	g, msg, err = svc.MakeMove(context.Background(), created.Key, "z")
	if err != nil {
		t.Fatalf("MakeMove error: %v", err)
	}
	if msg != "Wrong letter guess!" {
		t.Fatalf("message = %q", msg)
	}
	if g.WrongGuessesRemaining != 9 {
		t.Fatalf("WrongGuessesRemaining = %d, want 9", g.WrongGuessesRemaining)
	}
}

func TestMakeMove_WinFinalizesOnce(t *testing.T) {
	repo := newStubRepo()
	alice := &model.User{ID: 1, Name: "alice"}
	repo.addUser(alice)
	svc := NewService(repo, nil, nil)

	created, err := svc.CreateGame(context.Background(), "alice", "elephant")
	if err != nil {
		t.Fatalf("CreateGame error: %v", err)
	}

	var g *model.Game
	var msg string
	for _, letter := range []string{"e", "l", "p", "h", "a", "n", "t"} {
		g, msg, err = svc.MakeMove(context.Background(), created.Key, letter)
		if err != nil {
			t.Fatalf("MakeMove(%q) error: %v", letter, err)
		}
	}

	if !g.GameOver {
		t.Fatalf("game must be over")
	}
	if msg != "Correct letter guess! You win!" {
		t.Fatalf("final message = %q", msg)
	}
	if repo.finalizeCalls != 1 || !repo.finalizeWon {
		t.Fatalf("finalize calls = %d won = %v, want exactly one winning finalize", repo.finalizeCalls, repo.finalizeWon)
	}
	if alice.Wins != 1 || alice.GamesPlayed != 1 || alice.TotalScore != 10 {
		t.Fatalf("user stats = %+v, want wins=1 games=1 total=10", alice)
	}
}

func TestMakeMove_LossFinalizesWithZeroScore(t *testing.T) {
	repo := newStubRepo()
	alice := &model.User{ID: 1, Name: "alice"}
	repo.addUser(alice)
	svc := NewService(repo, nil, nil)

	created, err := svc.CreateGame(context.Background(), "alice", "elephant")
	if err != nil {
		t.Fatalf("CreateGame error: %v", err)
	}

	wrong := []string{"b", "c", "d", "f", "g", "i", "j", "k", "m", "o"}
	var g *model.Game
	for _, letter := range wrong {
		g, _, err = svc.MakeMove(context.Background(), created.Key, letter)
		if err != nil {
			t.Fatalf("MakeMove(%q) error: %v", letter, err)
		}
	}

	if !g.GameOver || g.WrongGuessesRemaining != 0 {
		t.Fatalf("unexpected terminal state: %+v", g)
	}
	if repo.finalizeCalls != 1 || repo.finalizeWon {
		t.Fatalf("finalize calls = %d won = %v, want exactly one losing finalize", repo.finalizeCalls, repo.finalizeWon)
	}
	if alice.Wins != 0 || alice.GamesPlayed != 1 || alice.TotalScore != 0 {
		t.Fatalf("user stats = %+v, want wins=0 games=1 total=0", alice)
	}
}

func TestMakeMove_PreconditionFailuresDoNotPersist(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(&model.User{ID: 1, Name: "alice"})
	svc := NewService(repo, nil, nil)

	created, err := svc.CreateGame(context.Background(), "alice", "elephant")
	if err != nil {
		t.Fatalf("CreateGame error: %v", err)
	}

	if _, _, err := svc.MakeMove(context.Background(), created.Key, "12"); !errors.Is(err, game.ErrInvalidGuess) {
		t.Fatalf("error = %v, want ErrInvalidGuess", err)
	}

	if _, _, err := svc.MakeMove(context.Background(), created.Key, "e"); err != nil {
		t.Fatalf("MakeMove error: %v", err)
	}
	if _, _, err := svc.MakeMove(context.Background(), created.Key, "e"); !errors.Is(err, game.ErrDuplicateGuess) {
		t.Fatalf("error = %v, want ErrDuplicateGuess", err)
	}

	if repo.updateCalls != 1 {
		t.Fatalf("update calls = %d, rejected moves must not be persisted", repo.updateCalls)
	}
}

func TestMakeMove_GameNotFound(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(repo, nil, nil)

	if _, _, err := svc.MakeMove(context.Background(), "missing", "a"); !errors.Is(err, repository.ErrGameNotFound) {
		t.Fatalf("error = %v, want ErrGameNotFound", err)
	}
}

func TestCancelGame(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(&model.User{ID: 1, Name: "alice"})
	svc := NewService(repo, nil, nil)

	created, err := svc.CreateGame(context.Background(), "alice", "elephant")
	if err != nil {
		t.Fatalf("CreateGame error: %v", err)
	}

	if err := svc.CancelGame(context.Background(), created.Key); err != nil {
		t.Fatalf("CancelGame error: %v", err)
	}
	if repo.deleteCalls != 1 {
		t.Fatalf("delete calls = %d, want 1", repo.deleteCalls)
	}

	if err := svc.CancelGame(context.Background(), created.Key); !errors.Is(err, repository.ErrGameNotFound) {
		t.Fatalf("error = %v, want ErrGameNotFound", err)
	}
}

func TestCancelGame_FinishedGame(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(&model.User{ID: 1, Name: "alice"})
	svc := NewService(repo, nil, nil)

	created, err := svc.CreateGame(context.Background(), "alice", "elephant")
	if err != nil {
		t.Fatalf("CreateGame error: %v", err)
	}

	for _, letter := range []string{"e", "l", "p", "h", "a", "n", "t"} {
		if _, _, err := svc.MakeMove(context.Background(), created.Key, letter); err != nil {
			t.Fatalf("MakeMove(%q) error: %v", letter, err)
		}
	}

	if err := svc.CancelGame(context.Background(), created.Key); !errors.Is(err, game.ErrGameOver) {
		t.Fatalf("error = %v, want ErrGameOver", err)
	}
	if repo.deleteCalls != 0 {
		t.Fatalf("finished game must not be deleted")
	}
}

func TestGetGameHistory(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(&model.User{ID: 1, Name: "alice"})
	svc := NewService(repo, nil, nil)

	created, err := svc.CreateGame(context.Background(), "alice", "elephant")
	if err != nil {
		t.Fatalf("CreateGame error: %v", err)
	}

	for _, letter := range []string{"e", "z"} {
		if _, _, err := svc.MakeMove(context.Background(), created.Key, letter); err != nil {
			t.Fatalf("MakeMove(%q) error: %v", letter, err)
		}
	}

	history, err := svc.GetGameHistory(context.Background(), created.Key)
	if err != nil {
		t.Fatalf("GetGameHistory error: %v", err)
	}

	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Guess != "e" || history[0].Result != model.GuessResultCorrect {
		t.Fatalf("first record = %+v", history[0])
	}
	if history[1].Guess != "z" || history[1].Result != model.GuessResultIncorrect {
		t.Fatalf("second record = %+v", history[1])
	}
}

func TestAverageWrongGuessesRemaining_EmptyBeforeRecompute(t *testing.T) {
	svc := NewService(newStubRepo(), cache.NewAverageCache(), nil)

	if msg := svc.AverageWrongGuessesRemaining(); msg != "" {
		t.Fatalf("message = %q, want empty before first recompute", msg)
	}
}

func TestStartCacheUpdates_RecomputeOnGameCreation(t *testing.T) {
	repo := newStubRepo()
	repo.addUser(&model.User{ID: 1, Name: "alice"})
	repo.average = 9.5
	repo.averageGames = 2

	avgCache := cache.NewAverageCache()
	svc := NewService(repo, avgCache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.StartCacheUpdates(ctx)

	if _, err := svc.CreateGame(ctx, "alice", "elephant"); err != nil {
		t.Fatalf("CreateGame error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if msg := svc.AverageWrongGuessesRemaining(); msg != "" {
			if msg != "The average wrong guesses remaining is 9.50" {
				t.Fatalf("message = %q", msg)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("cache was not recomputed after game creation")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStartCacheUpdates_NoCache(t *testing.T) {
	svc := NewService(newStubRepo(), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		svc.StartCacheUpdates(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("StartCacheUpdates did not return without cache")
	}
}
