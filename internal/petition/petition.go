// Package petition defines the boundary to the external reviewer that
// decides whether a citizen petition reaches the ballot.
package petition

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/talgya/city-council/internal/apperr"
	"github.com/talgya/city-council/internal/catalog"
	"github.com/talgya/city-council/internal/city"
)

// DefaultTimeout bounds one review.
const DefaultTimeout = 8 * time.Second

// Request is everything the reviewer is shown.
type Request struct {
	RoomID string
	Text   string
	Ballot []catalog.Option
	// Passed policies are disclosed, so their effects may be shown.
	Passed []catalog.Policy
	Params city.Params
}

// Draft is a policy written by the reviewer.
type Draft struct {
	Title       string
	Description string
	NewsFlash   string
	Category    catalog.Category
	Effects     city.Effects
}

// Verdict is the reviewer's decision. An approved verdict names an existing
// policy by PolicyID or carries a Draft.
type Verdict struct {
	Approved bool
	PolicyID string
	Draft    *Draft
	Message  string
}

// Oracle reviews petitions. Implementations may be slow and may fail.
type Oracle interface {
	Review(ctx context.Context, req Request) (Verdict, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, req Request) (Verdict, error)

func (f OracleFunc) Review(ctx context.Context, req Request) (Verdict, error) {
	return f(ctx, req)
}

// Messages shown when the reviewer could not decide.
const (
	MsgTimeout     = "The petitions office did not answer in time. Your petition was not approved."
	MsgUnavailable = "The petitions office is unavailable. Your petition was not approved."
	MsgIncomplete  = "The petitions office returned an incomplete decision. Your petition was not approved."
)

// Review asks the oracle with a deadline. It never fails: a timeout, an
// error or a malformed approval becomes a declined verdict with a message,
// and the cause is logged as an external failure.
func Review(ctx context.Context, o Oracle, req Request, timeout time.Duration) Verdict {
	if o == nil {
		return Verdict{Message: MsgUnavailable}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		v   Verdict
		err error
	}
	// The oracle may ignore ctx, so the deadline is enforced here. A late
	// reply lands in the buffer and is dropped.
	done := make(chan reply, 1)
	go func() {
		v, err := o.Review(ctx, req)
		done <- reply{v, err}
	}()

	var v Verdict
	var err error
	select {
	case rep := <-done:
		v, err = rep.v, rep.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		msg := MsgUnavailable
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			msg = MsgTimeout
		}
		slog.Warn("petition review failed",
			"room", req.RoomID,
			"code", apperr.CodeExternalFailure,
			"error", err,
		)
		return Verdict{Message: msg}
	}
	if v.Approved && v.PolicyID == "" && v.Draft == nil {
		slog.Warn("petition approved without a policy", "room", req.RoomID, "code", apperr.CodeExternalFailure)
		return Verdict{Message: MsgIncomplete}
	}
	return v
}

// Declined is an Oracle that refuses every petition with a fixed message.
// It stands in when no reviewer is configured.
type Declined string

func (d Declined) Review(context.Context, Request) (Verdict, error) {
	return Verdict{Message: string(d)}, nil
}
