package common

import (
	"fmt"

	coreerrors "capsupply/core/errors"
)

// PauseView reports whether a module is currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrPaused when module is halted. A nil view never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", coreerrors.ErrPaused, module)
	}
	return nil
}
