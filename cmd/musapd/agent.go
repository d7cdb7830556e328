package main

import (
	"context"
	"time"

	"github.com/methics/musap-ios-sub000/internal/application"
	"github.com/methics/musap-ios-sub000/internal/domain/models"
	"github.com/methics/musap-ios-sub000/pkg/logger"
)

// maxRequestsPerTick bounds how many queued requests one tick drains.
const maxRequestsPerTick = 16

// requestSource is the part of MusapService the agent drives.
type requestSource interface {
	Poll(ctx context.Context) (*models.PollResponse, error)
	HandleSignatureRequest(ctx context.Context, req *models.PollResponse) (*application.SignatureRequestResult, error)
}

// agent polls Link on a ticker and answers every request it receives.
type agent struct {
	source   requestSource
	interval time.Duration
	logger   logger.Logger
}

func newAgent(source requestSource, interval time.Duration, log logger.Logger) *agent {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &agent{source: source, interval: interval, logger: log.WithComponent("Agent")}
}

// Run polls until ctx is done.
func (a *agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info(ctx, "Polling Link for requests", logger.Duration("interval", a.interval))
	for {
		a.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain handles pending requests until Link reports none or the per-tick
// bound is reached. It returns the number of requests handled.
func (a *agent) drain(ctx context.Context) int {
	handled := 0
	for handled < maxRequestsPerTick && ctx.Err() == nil {
		req, err := a.source.Poll(ctx)
		if err != nil {
			a.logger.Warn(ctx, "Poll failed", logger.Err(err))
			return handled
		}
		if req == nil {
			return handled
		}

		handled++
		if _, err := a.source.HandleSignatureRequest(ctx, req); err != nil {
			a.logger.Error(ctx, "Failed to handle Link request", err, logger.String("transid", req.TransID))
		}
	}
	return handled
}
