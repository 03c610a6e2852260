package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/authgate/authgate/internal/config"
)

// SMSClient talks to the external notification service. No retries; a
// delivery failure is the triggering request's failure.
type SMSClient struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

func NewSMSClient(cfg *config.NotificationConfig, logger *logrus.Logger) *SMSClient {
	return &SMSClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

func (c *SMSClient) SendSMS(ctx context.Context, phone, text string) error {
	payload, err := json.Marshal(map[string]string{
		"phone": phone,
		"text":  text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal SMS payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notification/sms", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build SMS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).Error("SMS dispatch failed")
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification service responded %d", resp.StatusCode)
	}
	return nil
}
