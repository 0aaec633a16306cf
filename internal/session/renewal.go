package session

import (
	"github.com/rickgao/imsession/internal/token"
)

// checkAndRenew asks how long the current token has left and renews it when
// the check fails or the remainder is at or under the threshold.
func (o *Orchestrator) checkAndRenew() {
	checked := o.token
	if checked == "" {
		o.logger.Warn("no token for renewal check")
		return
	}

	epoch, parent := o.epoch, o.reqCtx
	go func() {
		ctx, cancel := o.requestContext(parent)
		defer cancel()

		minutes, err := o.api.CheckTokenExpiry(ctx, checked)
		o.loop.post(func() { o.handleExpiry(epoch, checked, minutes, err) })
	}()
}

func (o *Orchestrator) handleExpiry(epoch uint64, checked string, minutes int, err error) {
	if epoch != o.epoch || o.token != checked {
		return
	}
	if err == nil && minutes > o.cfg.RenewalThresholdMinutes {
		o.logger.Debug("token valid", "minutes_remaining", minutes)
		return
	}

	if err != nil {
		o.logger.Warn("token expiry check failed, renewing", "error", err)
	} else {
		o.logger.Info("token expiring, renewing", "minutes_remaining", minutes)
	}
	o.renew()
}

func (o *Orchestrator) renew() {
	old := o.token
	epoch, parent := o.epoch, o.reqCtx
	go func() {
		ctx, cancel := o.requestContext(parent)
		defer cancel()

		renewed, err := o.api.RenewToken(ctx, old)
		o.loop.post(func() { o.finishRenewal(epoch, old, renewed, err) })
	}()
}

func (o *Orchestrator) finishRenewal(epoch uint64, old, renewed string, err error) {
	if epoch != o.epoch {
		return
	}
	if o.token != old {
		o.logger.Debug("discarding renewal for a replaced token")
		return
	}
	if err != nil {
		o.logger.Warn("token renewal failed", "error", err)
		o.emit(Event{Kind: EventSessionExpiring, Err: err})
		return
	}
	o.logger.Info("session token renewed")
	o.adoptToken(renewed, SourceRenewal)
}

// adoptToken replaces the token everywhere it is kept: memory, socket
// parameters, page URL and the store. It runs as one loop step, so no other
// callback sees a partial update.
func (o *Orchestrator) adoptToken(tok, source string) {
	o.setToken(tok)
	if o.pageURL != "" {
		o.pageURL = token.WithPageToken(o.pageURL, tok)
	}

	if o.store != nil {
		ctx, cancel := o.requestContext(o.runCtx)
		err := o.store.Save(ctx, tok)
		cancel()
		if err != nil {
			o.logger.Error("failed to persist token", "error", err)
			o.emit(Event{Kind: EventError, Err: err})
		}
	}

	o.emit(Event{Kind: EventTokenRotated, Source: source})
}
