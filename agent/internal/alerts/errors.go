package alerts

import (
	"errors"
	"fmt"
)

var errNoNotifier = errors.New("no notifier configured")

type panicError struct {
	value interface{}
}

func (e *panicError) Error() string {
	return fmt.Sprintf("notifier panicked: %v", e.value)
}
