package asyncfio

import (
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// log categories, also used as rate limiter keys
const (
	categoryLoop     = "loop"
	categoryTask     = "task"
	categoryDispatch = "dispatch"
	categoryWakeup   = "wakeup"
)

func defaultLogger() *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(stumpy.L.LevelInformational()),
	).Logger()
}
