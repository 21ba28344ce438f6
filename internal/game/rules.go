// Package game содержит правила игры в виселицу: проверку загаданного слова,
// построение маски прогресса и применение хода к партии.
package game

import (
	"errors"
	"strings"
	"unicode"

	"github.com/avolkov/hangman-service/internal/model"
)

const (
	// MinTargetWordLength задаёт минимальную длину загаданного слова.
	MinTargetWordLength = 8
	// DefaultWrongGuessesAllowed задаёт количество допустимых неверных попыток.
	DefaultWrongGuessesAllowed = 10
	// MaskRune используется в строке прогресса вместо неугаданных букв.
	MaskRune = '*'
)

// ErrInvalidWord возвращается, если загаданное слово содержит небуквенные символы.
var (
	ErrInvalidWord = errors.New("target word must contain only letters")
	// ErrWordTooShort возвращается, если загаданное слово короче минимальной длины.
	ErrWordTooShort = errors.New("target word is too short")
	// ErrGameOver возвращается при попытке изменить завершённую партию.
	ErrGameOver = errors.New("game is already over")
	// ErrInvalidGuess возвращается, если ход не является одной буквой.
	ErrInvalidGuess = errors.New("guess must be a single letter")
	// ErrDuplicateGuess возвращается, если буква уже была названа в этой партии.
	ErrDuplicateGuess = errors.New("letter has already been guessed")
)

// ValidateTargetWord проверяет, что слово состоит только из букв и достаточно длинное.
func ValidateTargetWord(word string) error {
	if word == "" {
		return ErrInvalidWord
	}
	for _, r := range word {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return ErrInvalidWord
		}
	}
	if len(word) < MinTargetWordLength {
		return ErrWordTooShort
	}
	return nil
}

// RenderProgress строит строку прогресса: угаданные буквы открыты, остальные замаскированы.
// Длина результата всегда равна длине загаданного слова.
func RenderProgress(targetWord string, guessed []string) string {
	var b strings.Builder
	b.Grow(len(targetWord))
	for _, r := range targetWord {
		if containsLetter(guessed, string(r)) {
			b.WriteRune(r)
		} else {
			b.WriteRune(MaskRune)
		}
	}
	return b.String()
}

func containsLetter(letters []string, letter string) bool {
	for _, l := range letters {
		if l == letter {
			return true
		}
	}
	return false
}

// New создаёт партию с проверенным и приведённым к нижнему регистру словом.
// Ключ и время создания проставляет вызывающая сторона.
func New(userID int64, targetWord string) (*model.Game, error) {
	if err := ValidateTargetWord(targetWord); err != nil {
		return nil, err
	}

	word := strings.ToLower(targetWord)

	return &model.Game{
		UserID:                userID,
		TargetWord:            word,
		CorrectLetters:        []string{},
		Progress:              RenderProgress(word, nil),
		WrongGuessesAllowed:   DefaultWrongGuessesAllowed,
		WrongGuessesRemaining: DefaultWrongGuessesAllowed,
		GuessHistory:          []model.GuessRecord{},
		Version:               1,
	}, nil
}

// ApplyGuess применяет ход к партии и возвращает сообщение для игрока.
// При ошибке предусловия партия остаётся без изменений.
// Повторной считается буква, уже названная в этой партии, независимо от того,
// была ли первая попытка верной.
func ApplyGuess(g *model.Game, guess string) (string, error) {
	if g.GameOver {
		return "", ErrGameOver
	}
	if !isSingleLetter(guess) {
		return "", ErrInvalidGuess
	}

	letter := strings.ToLower(guess)

	for _, rec := range g.GuessHistory {
		if rec.Guess == letter {
			return "", ErrDuplicateGuess
		}
	}

	var msg string
	if strings.Contains(g.TargetWord, letter) {
		g.CorrectLetters = append(g.CorrectLetters, letter)
		g.Progress = RenderProgress(g.TargetWord, g.CorrectLetters)
		g.GuessHistory = append(g.GuessHistory, model.GuessRecord{Guess: letter, Result: model.GuessResultCorrect})
		msg = "Correct letter guess!"
	} else {
		g.WrongGuessesRemaining--
		g.GuessHistory = append(g.GuessHistory, model.GuessRecord{Guess: letter, Result: model.GuessResultIncorrect})
		msg = "Wrong letter guess!"
	}

	// Победа проверяется раньше поражения.
	switch {
	case g.Progress == g.TargetWord:
		g.GameOver = true
		msg += " You win!"
	case g.WrongGuessesRemaining < 1:
		g.GameOver = true
		msg += " Game over!"
	}

	return msg, nil
}

// Won сообщает, выиграна ли завершённая партия.
func Won(g *model.Game) bool {
	return g.GameOver && g.Progress == g.TargetWord
}

func isSingleLetter(s string) bool {
	if len(s) != 1 {
		return false
	}
	r := rune(s[0])
	return unicode.IsLetter(r)
}
