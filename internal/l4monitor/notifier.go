// Copyright © 2024 DesktopAgent Authors
// SPDX-License-Identifier: Apache-2.0

package l4monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"

	"github.com/Axion-inc/DesktopAgent/internal/common/logger"
)

// EmailConfig configures the SMTP channel a CompositeNotifier sends
// deviation-stop alerts through.
type EmailConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	DefaultTo string
}

// WebhookConfig configures the HTTP POST channel a CompositeNotifier
// sends deviation-stop alerts through (e.g. a Slack incoming webhook).
type WebhookConfig struct {
	URL string
}

// CompositeNotifier fans a deviation-stop event out to every configured
// channel concurrently, the same multi-channel fan-out shape used for
// diagnosis results, carrying a run's deviation score instead of a
// diagnosis summary.
type CompositeNotifier struct {
	email   EmailConfig
	webhook WebhookConfig
	log     logger.Logger
}

// NewCompositeNotifier builds a Notifier that sends over email when
// email.Host is set and over webhook when webhook.URL is set; either
// may be left zero-valued to disable that channel.
func NewCompositeNotifier(email EmailConfig, webhook WebhookConfig) *CompositeNotifier {
	return &CompositeNotifier{email: email, webhook: webhook, log: logger.NewLogger("l4monitor-notifier")}
}

// NotifyDeviationStop implements Notifier.
func (n *CompositeNotifier) NotifyDeviationStop(ctx context.Context, runID int64, stepIndex int, totalScore float64) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	if n.email.Host != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.sendEmail(runID, stepIndex, totalScore); err != nil {
				n.log.Errorf("deviation-stop email for run %d: %v", runID, err)
				errCh <- err
			}
		}()
	}
	if n.webhook.URL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.sendWebhook(ctx, runID, stepIndex, totalScore); err != nil {
				n.log.Errorf("deviation-stop webhook for run %d: %v", runID, err)
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []string
	for err := range errCh {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify run %d deviation stop: %s", runID, strings.Join(errs, "; "))
	}
	return nil
}

func (n *CompositeNotifier) sendEmail(runID int64, stepIndex int, totalScore float64) error {
	if n.email.DefaultTo == "" {
		return fmt.Errorf("no recipient configured for deviation-stop email")
	}
	subject := fmt.Sprintf("Run %d paused: deviation score %.1f", runID, totalScore)
	body := fmt.Sprintf("Run %d stopped itself before step %d.\nAccumulated deviation score: %.2f\n",
		runID, stepIndex, totalScore)
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n", n.email.DefaultTo, subject, body))

	auth := smtp.PlainAuth("", n.email.Username, n.email.Password, n.email.Host)
	addr := fmt.Sprintf("%s:%d", n.email.Host, n.email.Port)
	if err := smtp.SendMail(addr, auth, n.email.From, []string{n.email.DefaultTo}, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// webhookPayload is the JSON body posted to the configured webhook URL.
type webhookPayload struct {
	RunID      int64   `json:"run_id"`
	StepIndex  int     `json:"step_index"`
	TotalScore float64 `json:"total_score"`
	Message    string  `json:"message"`
}

func (n *CompositeNotifier) sendWebhook(ctx context.Context, runID int64, stepIndex int, totalScore float64) error {
	payload := webhookPayload{
		RunID: runID, StepIndex: stepIndex, TotalScore: totalScore,
		Message: fmt.Sprintf("Run %d paused before step %d (deviation score %.2f)", runID, stepIndex, totalScore),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
