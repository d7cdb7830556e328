package main

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/methics/musap-ios-sub000/internal/application"
	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

type fakeSource struct {
	mu      sync.Mutex
	queue   []*models.PollResponse
	pollErr error
	handled []string
	polls   int
}

func (f *fakeSource) Poll(context.Context) (*models.PollResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if len(f.queue) == 0 {
		return nil, nil
	}
	req := f.queue[0]
	f.queue = f.queue[1:]
	return req, nil
}

func (f *fakeSource) HandleSignatureRequest(_ context.Context, req *models.PollResponse) (*application.SignatureRequestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, req.TransID)
	if req.TransID == "bad" {
		return nil, fmt.Errorf("cannot sign")
	}
	return &application.SignatureRequestResult{}, nil
}

func (f *fakeSource) handledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.handled...)
}

func TestAgent_DrainHandlesQueue(t *testing.T) {
	source := &fakeSource{queue: []*models.PollResponse{{TransID: "tx-1"}, {TransID: "bad"}, {TransID: "tx-2"}}}
	a := newAgent(source, time.Second, logger.NewNoopLogger())

	assert.Equal(t, 3, a.drain(context.Background()))
	assert.Equal(t, []string{"tx-1", "bad", "tx-2"}, source.handledIDs())
	assert.Equal(t, 4, source.polls)
}

func TestAgent_DrainIsBounded(t *testing.T) {
	source := &fakeSource{}
	for i := 0; i < maxRequestsPerTick+5; i++ {
		source.queue = append(source.queue, &models.PollResponse{TransID: fmt.Sprintf("tx-%d", i)})
	}
	a := newAgent(source, time.Second, logger.NewNoopLogger())

	assert.Equal(t, maxRequestsPerTick, a.drain(context.Background()))
	assert.Equal(t, 5, a.drain(context.Background()))
}

func TestAgent_PollErrorStopsDrain(t *testing.T) {
	source := &fakeSource{pollErr: fmt.Errorf("link unreachable")}
	a := newAgent(source, time.Second, logger.NewNoopLogger())

	assert.Equal(t, 0, a.drain(context.Background()))
	assert.Equal(t, 1, source.polls)
}

func TestAgent_RunStopsOnCancel(t *testing.T) {
	source := &fakeSource{queue: []*models.PollResponse{{TransID: "tx-1"}}}
	a := newAgent(source, 10*time.Millisecond, logger.NewNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(source.handledIDs()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("agent did not stop")
	}
}
