package executor

import (
	"errors"
	"fmt"

	"signal_bot/internal/models"
)

var (
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrTerminal          = errors.New("position is terminal")
)

// transitions допустимые переходы. Терминальные состояния ключей не имеют.
var transitions = map[models.PositionState][]models.PositionState{
	models.StatePendingEntry: {
		models.StateOpen,
		models.StateFailed,
		models.StateCanceled,
	},
	models.StateOpen: {
		models.StatePartiallyClosed,
		models.StateClosed,
		models.StateFailed,
	},
	models.StatePartiallyClosed: {
		models.StatePartiallyClosed,
		models.StateClosed,
		models.StateFailed,
	},
}

// CanTransition переход from -> to есть в таблице.
func CanTransition(from, to models.PositionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to models.PositionState) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
