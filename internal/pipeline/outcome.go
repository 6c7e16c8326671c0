package pipeline

import (
	"github.com/sawpanic/tradegate/internal/policy"
)

// StageStatus is the tag of an Outcome
type StageStatus string

const (
	StagePass StageStatus = "pass"
	StageWarn StageStatus = "warn"
	StageFail StageStatus = "fail"
)

// Outcome is a stage result: a value, a value with advisories, or an error.
// A failed outcome may still carry the partial value the stage computed.
type Outcome[T any] struct {
	status     StageStatus
	value      T
	err        error
	advisories []policy.Advisory
}

// Pass wraps a clean result
func Pass[T any](v T) Outcome[T] {
	return Outcome[T]{status: StagePass, value: v}
}

// Warn wraps a result that crossed soft thresholds. With no advisories it is a Pass.
func Warn[T any](v T, advisories ...policy.Advisory) Outcome[T] {
	if len(advisories) == 0 {
		return Pass(v)
	}
	return Outcome[T]{status: StageWarn, value: v, advisories: advisories}
}

// Fail wraps a halting error
func Fail[T any](err error) Outcome[T] {
	return Outcome[T]{status: StageFail, err: err}
}

// FailWith wraps a halting error together with the partial result
func FailWith[T any](v T, err error) Outcome[T] {
	return Outcome[T]{status: StageFail, value: v, err: err}
}

// From builds an outcome from a conventional (value, error) pair
func From[T any](v T, err error) Outcome[T] {
	if err != nil {
		return FailWith(v, err)
	}
	return Pass(v)
}

func (o Outcome[T]) Status() StageStatus           { return o.status }
func (o Outcome[T]) Value() T                      { return o.value }
func (o Outcome[T]) Err() error                    { return o.err }
func (o Outcome[T]) Advisories() []policy.Advisory { return o.advisories }
func (o Outcome[T]) Failed() bool                  { return o.status == StageFail }
