package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/authgate/authgate/internal/config"
)

// AvatarService re-hosts provider profile pictures in the avatar bucket so
// clients never load images straight from the identity provider.
type AvatarService struct {
	s3Client *s3.Client
	cfg      *config.AvatarConfig
	client   *http.Client
	logger   *logrus.Logger
}

func NewAvatarService(s3Client *s3.Client, cfg *config.AvatarConfig, logger *logrus.Logger) *AvatarService {
	return &AvatarService{
		s3Client: s3Client,
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// Store downloads sourceURL and uploads it under a fresh key, returning the
// hosted URL. Best-effort only: every failure path returns nil and the
// caller treats the avatar as absent.
func (s *AvatarService) Store(ctx context.Context, sourceURL string) *string {
	if s.s3Client == nil || s.cfg.Bucket == "" || sourceURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.WithError(err).Warn("Avatar download failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.WithField("status", resp.StatusCode).Warn("Avatar source responded with non-200")
		return nil
	}

	key := "avatars/" + uuid.New().String()
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        resp.Body,
		ContentType: aws.String(resp.Header.Get("Content-Type")),
	})
	if err != nil {
		s.logger.WithError(err).Warn("Avatar upload failed")
		return nil
	}

	hosted := s.hostedURL(key)
	return &hosted
}

func (s *AvatarService) hostedURL(key string) string {
	if s.cfg.BaseURL != "" {
		return s.cfg.BaseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}
