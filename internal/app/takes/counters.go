package takes

import (
	"fmt"

	"github.com/chrismeisner/makethetake/internal/domain"
)

func CounterKeySide(propID domain.PropID, side domain.Side) string {
	return fmt.Sprintf("prop:%s:side:%s", propID, side)
}

func CounterKeyTotal(propID domain.PropID) string {
	return fmt.Sprintf("prop:%s:total", propID)
}
