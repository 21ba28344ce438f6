// Package model содержит доменные сущности сервиса игры в виселицу.
package model

import "time"

// User представляет зарегистрированного игрока и его накопленную статистику.
type User struct {
	ID          int64
	Name        string
	Email       string
	Wins        int64
	GamesPlayed int64
	TotalScore  int64
	CreatedAt   time.Time
}

// WinPercentage возвращает долю выигранных партий (0 при отсутствии сыгранных игр).
func (u *User) WinPercentage() float64 {
	if u.GamesPlayed == 0 {
		return 0
	}
	return float64(u.Wins) / float64(u.GamesPlayed)
}

// AverageScore возвращает средний итоговый счёт за партию (0 при отсутствии сыгранных игр).
func (u *User) AverageScore() float64 {
	if u.GamesPlayed == 0 {
		return 0
	}
	return float64(u.TotalScore) / float64(u.GamesPlayed)
}

// GuessResult описывает результат принятого хода.
type GuessResult string

const (
	GuessResultCorrect   GuessResult = "correct"
	GuessResultIncorrect GuessResult = "incorrect"
)

// GuessRecord описывает один принятый ход: букву и её результат.
type GuessRecord struct {
	Guess  string      `json:"guess"`
	Result GuessResult `json:"result"`
}

// Game описывает партию: загаданное слово и текущее состояние угадывания.
// Progress всегда пересчитывается из TargetWord и CorrectLetters, отдельно не мутируется.
type Game struct {
	Key                   string
	UserID                int64
	TargetWord            string
	CorrectLetters        []string
	Progress              string
	WrongGuessesAllowed   int
	WrongGuessesRemaining int
	GuessHistory          []GuessRecord
	GameOver              bool
	Version               int64
	CreatedAt             time.Time
}

// Score описывает неизменяемую запись об итоге завершённой партии.
type Score struct {
	ID           int64
	UserID       int64
	Date         time.Time
	Won          bool
	WrongGuesses int
	FinalScore   int
}
