package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/juncture-dev/juncture/internal/common/appctx"
	"github.com/juncture-dev/juncture/internal/common/constants"
	"github.com/juncture-dev/juncture/internal/tracing"
	"github.com/juncture-dev/juncture/pkg/codex"
)

// requestWithRetry issues one RPC, retrying only transient transport
// failures. Agent-side errors (invalid params, unknown model, internal
// errors) surface immediately so the caller can react to them.
func (b *Bridge) requestWithRetry(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var result json.RawMessage

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(500*time.Millisecond),
			uint64(b.cfg.RequestRetries),
		),
		ctx,
	)

	op := func() error {
		client := b.currentClient()
		if client == nil {
			return backoff.Permanent(ErrNotConnected)
		}

		callCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeoutDuration())
		defer cancel()

		callCtx, span := tracing.TraceAgentCall(callCtx, method)
		resp, err := client.Call(callCtx, method, params)
		tracing.TraceAgentCallResult(span, err)
		span.End()
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if resp.Error != nil {
			// Agent-side rejection, never retried.
			return backoff.Permanent(fmt.Errorf("%s: %w", method, resp.Error))
		}
		result = resp.Result
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return result, nil
}

// currentClient reads the active RPC client under lock. Callers must not
// hold b.mu while invoking Call on the returned client.
func (b *Bridge) currentClient() *codex.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

// scheduleReconnect arms a background reconnect loop after an unexpected
// subprocess exit. It never fires for an agent that was never successfully
// connected, and a loop already in flight is not duplicated.
func (b *Bridge) scheduleReconnect() {
	b.mu.Lock()
	if !b.everConnected || b.reconnecting || b.closing {
		b.mu.Unlock()
		return
	}
	b.reconnecting = true
	b.mu.Unlock()

	go b.reconnectLoop()
}

// reconnectLoop retries Connect with linearly growing delays up to the
// configured attempt ceiling, then parks in the error state until an
// explicit Connect resets the counter.
func (b *Bridge) reconnectLoop() {
	defer func() {
		b.mu.Lock()
		b.reconnecting = false
		b.mu.Unlock()
	}()

	base := b.cfg.ReconnectBaseDelayDuration()
	for attempt := 0; attempt < b.cfg.ReconnectMaxAttempts; attempt++ {
		select {
		case <-b.shutdownCh:
			return
		case <-time.After(base * time.Duration(attempt+1)):
		}

		b.setStatus(StatusReconnecting)
		b.logger.Info("reconnecting to agent", zap.Int("attempt", attempt+1))

		// Detached from any request context, but still cut short by Close.
		ctx, cancel := appctx.Detached(context.Background(), b.shutdownCh, constants.AgentConnectTimeout)
		err := b.Connect(ctx)
		cancel()
		if err != nil {
			b.logger.WithError(err).Warn("reconnect attempt failed")
			continue
		}
		b.logger.Info("agent reconnected")
		return
	}

	b.logger.Error("reconnect attempts exhausted",
		zap.Int("attempts", b.cfg.ReconnectMaxAttempts))
	b.setStatus(StatusError)
}
