package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/handlers"
	"github.com/authgate/authgate/internal/middleware"
	"github.com/authgate/authgate/internal/provider"
	"github.com/authgate/authgate/internal/proxy"
	"github.com/authgate/authgate/internal/repository"
	"github.com/authgate/authgate/internal/service"
	"github.com/authgate/authgate/internal/token"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	awsCfg, err := loadAWSConfig(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load AWS config")
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	tokenEngine, err := token.NewEngine(&cfg.AccessToken, &cfg.RefreshToken)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize token engine")
	}

	userRepo := repository.NewUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger)
	pinRepo := repository.NewPinRepository(redisClient, logger)

	smsClient := service.NewSMSClient(&cfg.Notification, logger)
	phoneService := service.NewPhoneService(pinRepo, smsClient, &cfg.Phone, logger)
	avatarService := service.NewAvatarService(s3Client, &cfg.Avatar, logger)

	providers := make(map[string]handlers.ProviderClient, len(cfg.Providers))
	for name, providerCfg := range cfg.Providers {
		providers[name] = provider.NewClient(providerCfg, logger)
	}

	authHandlers := handlers.NewAuthHandlers(tokenEngine, userRepo, providers, avatarService, logger)
	authMiddleware := middleware.NewAuthMiddleware(tokenEngine, userRepo, cfg.Version.Header, logger)
	gatewayProxy := proxy.New(cfg, tokenEngine, phoneService, logger)

	router := setupRouter(cfg, authHandlers, authMiddleware, gatewayProxy, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting gateway")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gateway...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Gateway exited")
}

func loadAWSConfig(cfg *config.Config) (aws.Config, error) {
	if cfg.DynamoDB.Endpoint != "" {
		return awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	}
	return awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
}

func setupRouter(
	cfg *config.Config,
	authHandlers *handlers.AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	gatewayProxy *proxy.Proxy,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}).Methods("GET", "OPTIONS")

	// Public surface.
	auth := router.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", authHandlers.Login).Methods("POST", "OPTIONS")
	auth.HandleFunc("/user", authHandlers.CreateUser).Methods("POST", "OPTIONS")
	auth.HandleFunc("/user", authHandlers.DeleteUsers).Methods("DELETE")
	auth.HandleFunc("/{provider}", authHandlers.ProviderRedirect).Methods("GET")
	auth.HandleFunc("/{provider}/callback", authHandlers.ProviderCallback).Methods("GET")

	// Whitelisted pass-through routes reach the backend unauthenticated.
	router.HandleFunc(cfg.PassThrough.Path, gatewayProxy.PassThrough).Methods(cfg.PassThrough.Method, "OPTIONS")
	router.HandleFunc("/user/activate", gatewayProxy.DirectLogin).Methods("GET")

	// Everything else under /api requires a valid access token and is
	// forwarded to the private backend.
	protected := router.PathPrefix("/api").Subrouter()
	protected.Use(authMiddleware.RequireAuth)
	protected.PathPrefix("/").HandlerFunc(gatewayProxy.Forward)

	return router
}
