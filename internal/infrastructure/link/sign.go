package link

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/looplab/fsm"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/pkg/constants"
	"github.com/methics/musap-ios-sub000/pkg/errors"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// Sign exchange states and events.
const (
	stateRequested = "requested"
	statePending   = "pending"
	stateSuccess   = "success"
	stateFailed    = "failed"

	eventPending = "pending"
	eventSucceed = "succeed"
	eventFail    = "fail"
)

// errStillPending marks a poll attempt that should be retried.
var errStillPending = stderrors.New("signature still pending")

// SignResultFunc receives the terminal result of an external signature.
type SignResultFunc func(*models.ExternalSignatureResponsePayload, error)

// signFlow tracks one externalsignature exchange. The state machine has no
// transitions out of success or failed, so only the first terminal event is
// delivered.
type signFlow struct {
	fsm     *fsm.FSM
	deliver SignResultFunc
}

func newSignFlow(deliver SignResultFunc) *signFlow {
	return &signFlow{
		fsm: fsm.NewFSM(
			stateRequested,
			fsm.Events{
				{Name: eventPending, Src: []string{stateRequested}, Dst: statePending},
				{Name: eventSucceed, Src: []string{stateRequested, statePending}, Dst: stateSuccess},
				{Name: eventFail, Src: []string{stateRequested, statePending}, Dst: stateFailed},
			},
			fsm.Callbacks{},
		),
		deliver: deliver,
	}
}

// finish delivers a terminal result. It reports false when a result was
// already delivered.
func (f *signFlow) finish(ctx context.Context, resp *models.ExternalSignatureResponsePayload, err error) bool {
	event := eventSucceed
	if err != nil {
		event = eventFail
	}
	if f.fsm.Event(ctx, event) != nil {
		return false
	}
	f.deliver(resp, err)
	return true
}

func (f *signFlow) done() bool {
	s := f.fsm.Current()
	return s == stateSuccess || s == stateFailed
}

// Sign requests an external signature and blocks until it completes.
func (c *Client) Sign(ctx context.Context, payload models.ExternalSignaturePayload) (*models.ExternalSignatureResponsePayload, error) {
	type result struct {
		resp *models.ExternalSignatureResponsePayload
		err  error
	}
	ch := make(chan result, 1)
	c.SignAsync(ctx, payload, func(resp *models.ExternalSignatureResponsePayload, err error) {
		ch <- result{resp, err}
	})
	r := <-ch
	return r.resp, r.err
}

// SignAsync runs the externalsignature exchange in the background and calls
// onResult exactly once. A pending answer is re-polled up to the configured
// number of attempts, waiting interval*n before attempt n; running out of
// attempts is a failure.
func (c *Client) SignAsync(ctx context.Context, payload models.ExternalSignaturePayload, onResult SignResultFunc) {
	flow := newSignFlow(onResult)
	go c.runSign(ctx, flow, payload)
}

func (c *Client) runSign(ctx context.Context, flow *signFlow, payload models.ExternalSignaturePayload) {
	defer func() {
		if r := recover(); r != nil {
			flow.finish(ctx, nil, c.internal(ctx, "sign", fmt.Errorf("panic: %v", r)))
		}
	}()

	link, err := c.session(ctx)
	if err != nil {
		flow.finish(ctx, nil, c.internal(ctx, "sign", err))
		return
	}

	resp, err := c.signOnce(ctx, link, payload)
	if err != nil {
		flow.finish(ctx, nil, c.internal(ctx, "sign", err))
		return
	}
	if resp.Status != constants.StatusPending {
		c.complete(ctx, flow, resp)
		return
	}

	if err := flow.fsm.Event(ctx, eventPending); err != nil {
		c.logger.Warn(ctx, "Unexpected sign flow state", logger.String("state", flow.fsm.Current()))
	}
	if resp.TransID != "" {
		payload.TransID = resp.TransID
	}
	c.logger.Debug(ctx, "Signature pending, polling", logger.String("trans_id", payload.TransID))

	attempts := 0
	final, err := c.repoll(ctx, flow, link, payload, &attempts)
	if err != nil {
		c.metrics.RecordPollAttempts(string(constants.StatusFailed), attempts)
		flow.finish(ctx, nil, c.internal(ctx, "sign", err))
		return
	}
	c.metrics.RecordPollAttempts(string(final.Status), attempts)
	c.complete(ctx, flow, final)
}

// repoll re-sends the externalsignature message sequentially until a
// terminal status arrives or the attempt budget is spent.
func (c *Client) repoll(ctx context.Context, flow *signFlow, link *models.MusapLink, payload models.ExternalSignaturePayload, attempts *int) (*models.ExternalSignatureResponsePayload, error) {
	interval := c.cfg.PollInterval

	select {
	case <-time.After(interval):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return retry.DoWithData(
		func() (*models.ExternalSignatureResponsePayload, error) {
			if flow.done() {
				return nil, retry.Unrecoverable(fmt.Errorf("sign flow already completed"))
			}
			*attempts++
			resp, err := c.signOnce(ctx, link, payload)
			if err != nil {
				c.logger.Warn(ctx, "Poll attempt failed",
					logger.Int("attempt", *attempts), logger.Err(err))
				return nil, err
			}
			if resp.Status == constants.StatusPending {
				return nil, errStillPending
			}
			return resp, nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.PollAttempts)),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return interval * time.Duration(n+1)
		}),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) signOnce(ctx context.Context, link *models.MusapLink, payload models.ExternalSignaturePayload) (*models.ExternalSignatureResponsePayload, error) {
	var resp models.ExternalSignatureResponsePayload
	if _, err := c.exchange(ctx, link.URL, link.MusapID, constants.MessageTypeExternalSignature, payload.TransID, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) complete(ctx context.Context, flow *signFlow, resp *models.ExternalSignatureResponsePayload) {
	switch resp.Status {
	case constants.StatusSuccess:
		flow.finish(ctx, resp, nil)
	default:
		code := constants.ErrCodeInternal
		if resp.ErrorCode != nil {
			code = constants.ErrorCode(*resp.ErrorCode)
		}
		err := errors.NewError(code, "The external signature failed.",
			fmt.Sprintf("external signature status %q", resp.Status))
		flow.finish(ctx, resp, err)
	}
}
