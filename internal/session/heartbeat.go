package session

import (
	"time"

	"github.com/rickgao/imsession/internal/connection"
	"github.com/rickgao/imsession/internal/timers"
)

// startBackgroundTasks registers the tasks that run while connected.
func (o *Orchestrator) startBackgroundTasks() {
	if o.api != nil {
		o.timers.Every(timers.Heartbeat, o.sendHeartbeat, o.cfg.HeartbeatInterval)
		o.timers.Every(timers.TokenRenewal, o.checkAndRenew, o.cfg.RenewalInterval)
		o.timers.After(timers.TokenRenewalNow, o.checkAndRenew, o.cfg.RenewalInitialDelay)
	}
	if o.cfg.PingInterval > 0 {
		o.timers.Every(timers.SocketPing, o.pingSocket, o.cfg.PingInterval)
	}
}

func (o *Orchestrator) stopBackgroundTasks() {
	o.timers.Clear(timers.Heartbeat)
	o.timers.Clear(timers.TokenRenewal)
	o.timers.Clear(timers.TokenRenewalNow)
	o.timers.Clear(timers.SocketPing)
}

// sendHeartbeat reports liveness with the current token. The answer may
// carry a rotated token.
func (o *Orchestrator) sendHeartbeat() {
	if !o.state.Is(connection.Connected) {
		return
	}
	sent := o.token
	if sent == "" {
		o.logger.Warn("no token for heartbeat")
		return
	}

	epoch, parent := o.epoch, o.reqCtx
	go func() {
		ctx, cancel := o.requestContext(parent)
		defer cancel()

		current, err := o.api.Heartbeat(ctx, sent)
		o.loop.post(func() { o.finishHeartbeat(epoch, sent, current, err) })
	}()
}

func (o *Orchestrator) finishHeartbeat(epoch uint64, sent, current string, err error) {
	if epoch != o.epoch {
		return
	}
	if err != nil {
		// the next tick retries
		o.logger.Warn("heartbeat failed", "error", err)
		return
	}
	if current == sent {
		o.logger.Debug("heartbeat ok")
		return
	}
	if o.token != sent {
		o.logger.Debug("discarding heartbeat answer for a replaced token")
		return
	}
	o.logger.Info("server rotated session token")
	o.adoptToken(current, SourceHeartbeat)
}

// pingSocket sends a websocket ping and drops the connection if the server
// stopped answering.
func (o *Orchestrator) pingSocket() {
	sock := o.transport
	if sock == nil || !sock.IsReady() {
		return
	}
	if o.cfg.PingTimeout > 0 {
		if silent := time.Since(sock.LastPong()); silent > o.cfg.PingTimeout {
			o.logger.Warn("no pong from server, dropping connection", "silent_for", silent)
			sock.Abort("pong timeout")
			return
		}
	}
	if err := sock.Ping(); err != nil {
		o.logger.Debug("ping failed", "error", err)
	}
}
