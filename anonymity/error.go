package anonymity

import (
	"fmt"

	"github.com/dedis/dissent/crypto"
)

// Error is a protocol failure attributed to a round, carrying the member
// indexes of the culprits when they are known.
type Error struct {
	cause    error
	task     string
	roundId  crypto.Id
	victim   crypto.Id
	culprits []int
}

func NewError(err error, task string, roundId, victim crypto.Id, culprits ...int) *Error {
	return &Error{cause: err, task: task, roundId: roundId, victim: victim, culprits: culprits}
}

func (err *Error) Unwrap() error { return err.cause }

func (err *Error) Cause() error { return err.cause }

func (err *Error) Task() string { return err.task }

func (err *Error) RoundId() crypto.Id { return err.roundId }

func (err *Error) Victim() crypto.Id { return err.victim }

func (err *Error) Culprits() []int { return err.culprits }

func (err *Error) Error() string {
	if err == nil || err.cause == nil {
		return "Error is nil"
	}
	if len(err.culprits) > 0 {
		return fmt.Sprintf("task %s, node %s, round %s, culprits %v: %s",
			err.task, err.victim, err.roundId, err.culprits, err.cause.Error())
	}
	return fmt.Sprintf("task %s, node %s, round %s: %s",
		err.task, err.victim, err.roundId, err.cause.Error())
}
