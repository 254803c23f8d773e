// Package notify pushes market-structure alerts (regime flips, danger
// zones) to operators over ntfy.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/gexflow/internal/config"
	"github.com/dgnsrekt/gexflow/internal/market"
)

// Client posts alert batches to an ntfy topic. It implements the engine's
// snapshot sink; delivery failures are logged and never propagate.
type Client struct {
	httpClient *http.Client
	cfg        config.NotifyConfig
	logger     *zap.Logger
}

func NewClient(cfg config.NotifyConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// OnFresh sends one notification per regime flip and a digest for danger
// zones. Gamma-flip alerts are too chatty for push delivery and are only
// persisted.
func (c *Client) OnFresh(ctx context.Context, snap *market.Snapshot, alerts []market.Alert) {
	if !c.cfg.Enabled {
		return
	}

	var dangerCount int
	for _, a := range alerts {
		switch a.Type {
		case market.AlertRegimeFlip:
			title := fmt.Sprintf("%s regime flip", snap.Symbol)
			if err := c.send(ctx, title, a.Message, c.cfg.Tags+",rotating_light", "high"); err != nil {
				c.logger.Warn("regime-flip notification failed", zap.Error(err))
			}
		case market.AlertDangerZone:
			dangerCount++
		}
	}

	if dangerCount > 0 {
		title := fmt.Sprintf("%s danger zones", snap.Symbol)
		body := FormatDangerDigest(snap)
		if err := c.send(ctx, title, body, c.cfg.Tags+",warning", c.cfg.Priority); err != nil {
			c.logger.Warn("danger-zone notification failed", zap.Error(err))
		}
	}
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.cfg.ServerURL, "/"), c.cfg.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// FormatDangerDigest summarizes active danger zones for one push message.
func FormatDangerDigest(snap *market.Snapshot) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Spot: %.2f\n", snap.SpotPrice))
	for _, z := range snap.DangerZones {
		sb.WriteString(fmt.Sprintf("%.0f %s (1m %.1f%%, 5m %.1f%%)\n",
			z.Strike, z.DangerType, z.ROC1Min, z.ROC5Min))
	}
	sb.WriteString(fmt.Sprintf("Regime: %s", snap.GammaRegime))

	return sb.String()
}
