package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/repository"
)

// ErrVerifyPhone is the single failure surfaced by VerifyPhone. A missing
// record, an expired one, a wrong guess and an exhausted budget are all
// indistinguishable to the caller; only requesting a new PIN resets things.
var ErrVerifyPhone = errors.New("phone verification failed")

// Notifier dispatches messages through the external notification service.
type Notifier interface {
	SendSMS(ctx context.Context, phone, text string) error
}

// PhoneService owns the PIN lifecycle used to prove phone ownership.
type PhoneService struct {
	pins     *repository.PinRepository
	notifier Notifier
	cfg      *config.PhoneConfig
	logger   *logrus.Logger
}

func NewPhoneService(pins *repository.PinRepository, notifier Notifier, cfg *config.PhoneConfig, logger *logrus.Logger) *PhoneService {
	return &PhoneService{
		pins:     pins,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *PhoneService) recordKey(userID, phone string) string {
	key := s.cfg.KeyTemplate
	key = strings.ReplaceAll(key, "{userId}", userID)
	key = strings.ReplaceAll(key, "{phone}", phone)
	return key
}

// CreatePIN generates a fresh code for (user, phone), overwriting any prior
// record, and dispatches exactly one SMS carrying it.
func (s *PhoneService) CreatePIN(ctx context.Context, userID, phone string) (string, error) {
	pin, err := s.generatePIN(s.cfg.PinSize)
	if err != nil {
		return "", fmt.Errorf("failed to generate PIN: %w", err)
	}

	key := s.recordKey(userID, phone)
	if err := s.pins.Store(ctx, key, pin, s.cfg.MaxAttempts, s.cfg.Expiry); err != nil {
		return "", err
	}

	if err := s.notifier.SendSMS(ctx, phone, fmt.Sprintf("Your verification PIN is %s", pin)); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("Failed to dispatch PIN notification")
		return "", fmt.Errorf("failed to send PIN: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
	}).Info("Verification PIN created")

	return pin, nil
}

// VerifyPhone checks candidate against the live record for (user, phone).
// Every call against a live record burns one attempt before the outcome is
// known; when a wrong guess spends the last attempt a replacement PIN is
// generated and dispatched so the owner can retry without a manual request.
// Country is metadata for downstream profile completion and plays no part in
// the match.
func (s *PhoneService) VerifyPhone(ctx context.Context, userID, phone, country, candidate string) (bool, error) {
	if candidate == "" {
		return false, ErrVerifyPhone
	}

	key := s.recordKey(userID, phone)
	result, err := s.pins.Consume(ctx, key, candidate)
	if err != nil {
		return false, err
	}

	switch result {
	case repository.ConsumeMatch:
		return true, nil
	case repository.ConsumeExhausted:
		if _, err := s.CreatePIN(ctx, userID, phone); err != nil {
			s.logger.WithError(err).WithField("user_id", userID).Error("Failed to issue replacement PIN")
		}
		return false, ErrVerifyPhone
	default:
		return false, ErrVerifyPhone
	}
}

func (s *PhoneService) generatePIN(length int) (string, error) {
	pin := ""
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		pin += num.String()
	}
	return pin, nil
}
