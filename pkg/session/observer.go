package session

import (
	"context"
	"time"

	"github.com/mesh-intelligence/unitofwork/pkg/types"
)

// Observer receives submission events, for example to export metrics.
type Observer interface {
	// SubmitStarted is called once the writes are ordered and validated.
	SubmitStarted(ctx context.Context, pending int)

	// WriteIssued is called after each insert, update or delete. err wraps
	// types.ErrChangeConflict for writes that failed their concurrency
	// check.
	WriteIssued(ctx context.Context, action types.ChangeAction, typeName string, elapsed time.Duration, err error)

	// SubmitFinished is called when SubmitChanges returns.
	SubmitFinished(ctx context.Context, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) SubmitStarted(context.Context, int) {}

func (nopObserver) WriteIssued(context.Context, types.ChangeAction, string, time.Duration, error) {}

func (nopObserver) SubmitFinished(context.Context, time.Duration, error) {}
