// Package platform talks to the external chat-platform integration service:
// role membership and hosted-event counts are read from it, and batched
// notifications and wave reports are handed to it for delivery. The engine
// itself never touches the messaging platform.
package platform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"duty-tracker/internal/models"
	"duty-tracker/internal/repository"

	"github.com/sirupsen/logrus"
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
}

func NewClient(baseURL string) *Client {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

func (c *Client) getJSON(path string, out interface{}) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("platform service returned %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(path string, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		c.logger.WithError(err).Error("Failed to encode platform payload")
		return
	}

	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		// Notification delivery is best-effort; the engine's own state is
		// already consistent by the time we get here.
		c.logger.WithError(err).WithField("path", path).Warn("Platform notification failed")
		return
	}
	resp.Body.Close()
}

// RolesOf implements service.RoleProvider.
func (c *Client) RolesOf(workerID string) ([]string, error) {
	var out struct {
		Roles []string `json:"roles"`
	}
	if err := c.getJSON("/workers/"+url.PathEscape(workerID)+"/roles", &out); err != nil {
		return nil, err
	}
	return out.Roles, nil
}

// CountHostedEvents implements service.HostedEventProvider.
func (c *Client) CountHostedEvents(workerID string, since time.Time) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	path := fmt.Sprintf("/workers/%s/hosted-events?since=%s",
		url.PathEscape(workerID), url.QueryEscape(since.Format(time.RFC3339)))
	if err := c.getJSON(path, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// NotifyShiftEdits implements service.Notifier.
func (c *Client) NotifyShiftEdits(adminID, workerID string, shiftID uint, edits []*models.ShiftEdit) {
	c.postJSON("/notifications/shift-edits", map[string]interface{}{
		"admin_id":  adminID,
		"worker_id": workerID,
		"shift_id":  shiftID,
		"edits":     edits,
	})
}

// PublishWaveReport implements service.ReportPublisher.
func (c *Client) PublishWaveReport(wave int, rows []repository.WaveAggregate) {
	c.postJSON("/notifications/wave-report", map[string]interface{}{
		"wave": wave,
		"rows": rows,
	})
}

// Noop stands in when no platform service is configured: workers hold no
// roles, event counts are zero and notifications are dropped after logging.
type Noop struct {
	logger *logrus.Logger
}

func NewNoop() *Noop {
	return &Noop{logger: logrus.New()}
}

func (n *Noop) RolesOf(workerID string) ([]string, error) { return nil, nil }

func (n *Noop) CountHostedEvents(workerID string, since time.Time) (int, error) { return 0, nil }

func (n *Noop) NotifyShiftEdits(adminID, workerID string, shiftID uint, edits []*models.ShiftEdit) {
	n.logger.WithFields(logrus.Fields{
		"admin_id": adminID,
		"shift_id": shiftID,
		"edits":    len(edits),
	}).Info("Shift edit summary (no platform service configured)")
}

func (n *Noop) PublishWaveReport(wave int, rows []repository.WaveAggregate) {
	n.logger.WithFields(logrus.Fields{
		"wave": wave,
		"rows": len(rows),
	}).Info("Wave report ready (no platform service configured)")
}
