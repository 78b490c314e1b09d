package indicators

import (
	"errors"
	"fmt"
)

// ErrInsufficientData means the window is shorter than the indicator needs.
var ErrInsufficientData = errors.New("insufficient data")

func insufficient(name string, have, need int) error {
	return fmt.Errorf("%s: %w: %d < %d", name, ErrInsufficientData, have, need)
}
