// ABOUTME: Deployment orchestrator pushing built agents onto remote hosts
// ABOUTME: Installs binary, config, and a systemd unit, recording the outcome

package deploy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/lisa-sim/lisa-backend/internal/agentcfg"
	"github.com/lisa-sim/lisa-backend/internal/metrics"
	"github.com/lisa-sim/lisa-backend/internal/store"
)

// Deployer installs built agents on remote hosts over a Dialer transport.
type Deployer struct {
	store       store.Store
	dialer      Dialer
	remoteDir   string
	serviceName string
	logger      *slog.Logger
}

// NewDeployer creates a deployment orchestrator. remoteDir is the install
// directory on targets; serviceName names the installed systemd unit.
func NewDeployer(st store.Store, dialer Dialer, remoteDir, serviceName string) *Deployer {
	return &Deployer{
		store:       st,
		dialer:      dialer,
		remoteDir:   remoteDir,
		serviceName: serviceName,
		logger:      slog.Default().With("component", "deploy"),
	}
}

// Deploy pushes the agent's binary and rendered config onto the target and
// starts it under systemd. binaryPath may be empty or missing, in which case
// a minimal heartbeat-only script is installed instead. Exactly one terminal
// activity (deployment_success or deployment_error) is recorded per call.
func (d *Deployer) Deploy(ctx context.Context, agent *store.Agent, doc *agentcfg.Document, binaryPath string, target Target) error {
	if err := d.store.UpdateAgentStatus(ctx, agent.ID, store.AgentDeploying); err != nil {
		return fmt.Errorf("marking agent deploying: %w", err)
	}
	d.appendActivity(ctx, agent.ID, store.ActivityDeployInitiated, map[string]any{
		"host": target.Host,
	})

	err := d.run(ctx, agent, doc, binaryPath, target)
	now := time.Now().UTC()

	// The outcome must land even when the request context is already dead:
	// a client that gives up mid-deploy must not leave the agent stuck in
	// deploying with nothing in the activity log.
	recordCtx := context.WithoutCancel(ctx)

	if err != nil {
		if serr := d.store.SetAgentDeployOutcome(recordCtx, agent.ID, store.AgentDeployFailed, "", nil); serr != nil {
			d.logger.Error("failed to record deployment failure", "agent_id", agent.AgentID, "error", serr)
		}
		d.appendActivity(recordCtx, agent.ID, store.ActivityDeployError, map[string]any{
			"host":  target.Host,
			"error": err.Error(),
		})
		metrics.DeploymentsTotal.WithLabelValues("error").Inc()
		d.logger.Error("deployment failed", "agent_id", agent.AgentID, "host", target.Host, "error", err)
		return err
	}

	if serr := d.store.SetAgentDeployOutcome(recordCtx, agent.ID, store.AgentDeployed, target.Host, &now); serr != nil {
		d.logger.Error("failed to record deployment success", "agent_id", agent.AgentID, "error", serr)
	}
	d.appendActivity(recordCtx, agent.ID, store.ActivityDeploySuccess, map[string]any{
		"host": target.Host,
	})
	metrics.DeploymentsTotal.WithLabelValues("success").Inc()
	d.logger.Info("deployment finished", "agent_id", agent.AgentID, "host", target.Host)
	return nil
}

// run performs the remote work. The session is closed on every path.
func (d *Deployer) run(ctx context.Context, agent *store.Agent, doc *agentcfg.Document, binaryPath string, target Target) error {
	sess, err := d.dialer.Dial(ctx, target)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", target.Host, err)
	}
	defer sess.Close()

	for _, dir := range []string{d.remoteDir, path.Join(d.remoteDir, "logs"), "/var/log/lisa"} {
		if _, err := sess.Run(ctx, fmt.Sprintf("sudo mkdir -p %s", shellQuote(dir))); err != nil {
			return fmt.Errorf("creating remote directory %s: %w", dir, err)
		}
	}

	if err := d.pushExecutable(ctx, sess, doc, binaryPath); err != nil {
		return err
	}

	if err := d.pushConfig(ctx, sess, doc); err != nil {
		return err
	}

	return d.installService(ctx, sess)
}

// pushExecutable installs the built binary, or a fallback heartbeat script
// when no artifact is available.
func (d *Deployer) pushExecutable(ctx context.Context, sess Session, doc *agentcfg.Document, binaryPath string) error {
	remoteExec := path.Join(d.remoteDir, "agent")

	if binaryPath != "" {
		f, err := os.Open(binaryPath)
		if err == nil {
			defer f.Close()
			if err := sess.Put(ctx, f, "/tmp/lisa_agent_push", 0o755); err != nil {
				return fmt.Errorf("pushing agent binary: %w", err)
			}
			_, err = sess.Run(ctx, fmt.Sprintf("sudo mv /tmp/lisa_agent_push %s && sudo chmod 755 %s",
				shellQuote(remoteExec), shellQuote(remoteExec)))
			if err != nil {
				return fmt.Errorf("installing agent binary: %w", err)
			}
			return nil
		}
		d.logger.Warn("build artifact missing, installing fallback agent", "path", binaryPath)
	}

	script := fallbackScript(doc)
	if err := sess.Put(ctx, strings.NewReader(script), "/tmp/lisa_agent_push", 0o755); err != nil {
		return fmt.Errorf("pushing fallback agent: %w", err)
	}
	if _, err := sess.Run(ctx, fmt.Sprintf("sudo mv /tmp/lisa_agent_push %s && sudo chmod 755 %s",
		shellQuote(remoteExec), shellQuote(remoteExec))); err != nil {
		return fmt.Errorf("installing fallback agent: %w", err)
	}
	return nil
}

func (d *Deployer) pushConfig(ctx context.Context, sess Session, doc *agentcfg.Document) error {
	data, err := agentcfg.Render(doc, agentcfg.FormatJSON)
	if err != nil {
		return err
	}
	if err := sess.Put(ctx, bytes.NewReader(data), "/tmp/agent_config_push.json", 0o644); err != nil {
		return fmt.Errorf("pushing agent config: %w", err)
	}
	remote := path.Join(d.remoteDir, "config.json")
	if _, err := sess.Run(ctx, fmt.Sprintf("sudo mv /tmp/agent_config_push.json %s", shellQuote(remote))); err != nil {
		return fmt.Errorf("installing agent config: %w", err)
	}
	return nil
}

func (d *Deployer) installService(ctx context.Context, sess Session) error {
	unit := d.systemdUnit()
	tmpUnit := fmt.Sprintf("/tmp/%s.service", d.serviceName)
	if err := sess.Put(ctx, strings.NewReader(unit), tmpUnit, 0o644); err != nil {
		return fmt.Errorf("pushing systemd unit: %w", err)
	}

	commands := []string{
		fmt.Sprintf("sudo mv %s /etc/systemd/system/", shellQuote(tmpUnit)),
		"sudo systemctl daemon-reload",
		fmt.Sprintf("sudo systemctl enable %s", d.serviceName),
		fmt.Sprintf("sudo systemctl restart %s", d.serviceName),
	}
	for _, cmd := range commands {
		if _, err := sess.Run(ctx, cmd); err != nil {
			return fmt.Errorf("installing service: %w", err)
		}
	}
	return nil
}

// CheckStatus queries the installed service on the target.
func (d *Deployer) CheckStatus(ctx context.Context, target Target) (bool, string, error) {
	sess, err := d.dialer.Dial(ctx, target)
	if err != nil {
		return false, "", fmt.Errorf("connecting to %s: %w", target.Host, err)
	}
	defer sess.Close()

	out, err := sess.Run(ctx, fmt.Sprintf("sudo systemctl status %s", d.serviceName))
	if err != nil {
		return false, out, nil
	}
	return true, out, nil
}

func (d *Deployer) systemdUnit() string {
	return fmt.Sprintf(`[Unit]
Description=LISA Agent Service
After=network.target

[Service]
Type=simple
User=root
WorkingDirectory=%s
ExecStart=%s
Restart=always
RestartSec=10
StandardOutput=append:/var/log/lisa/agent.log
StandardError=append:/var/log/lisa/agent.error.log

[Install]
WantedBy=multi-user.target
`, d.remoteDir, path.Join(d.remoteDir, "agent"))
}

func (d *Deployer) appendActivity(ctx context.Context, agentRef string, typ store.ActivityType, data map[string]any) {
	err := d.store.AppendActivity(ctx, &store.AgentActivity{
		AgentRef:     agentRef,
		ActivityType: typ,
		ActivityData: data,
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		d.logger.Error("failed to append activity", "agent_ref", agentRef, "type", typ, "error", err)
	}
}

// fallbackScript returns a minimal shell agent that only heartbeats, for
// targets deployed before a build has produced an artifact.
func fallbackScript(doc *agentcfg.Document) string {
	interval := doc.Callback.HeartbeatInterval
	if interval <= 0 {
		interval = 60
	}
	return fmt.Sprintf(`#!/bin/sh
# Minimal heartbeat-only agent installed when no build artifact exists.
AGENT_ID=%q
URL=%q
while true; do
  curl -s -X POST -H 'Content-Type: application/json' \
    -d "{\"agent_id\":\"$AGENT_ID\",\"status\":\"active\"}" "$URL" >/dev/null 2>&1
  sleep %d
done
`, doc.AgentID, doc.Callback.URL, interval)
}
