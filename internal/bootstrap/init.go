// InitApp builds every long-lived component the server needs, in
// dependency order:
//
//	1. hot-reload manager (watches the config file, live-updates log level)
//	2. job tracker (single-admission guard shared by streaming and file paths)
//	3. model manager (lazy engine lifecycle)
//	4. token store + session manager
//	5. rate limiter
//	6. speaker recognition module (optional, piggybacks on diarization)
//	7. HTTP/WebSocket handlers
//	8. package into AppDependencies
package bootstrap

import (
	"fmt"

	"streamspeech/config"
	"streamspeech/internal/filetranscribe"
	"streamspeech/internal/httpapi"
	"streamspeech/internal/jobtracker"
	"streamspeech/internal/logger"
	"streamspeech/internal/middleware"
	"streamspeech/internal/modelmanager"
	"streamspeech/internal/session"
	"streamspeech/internal/speaker"
	"streamspeech/internal/wsgateway"
)

// AppDependencies holds all application dependencies.
// This is the root dependency container for the application.
type AppDependencies struct {
	Config         *config.Config
	SessionManager *session.Manager
	ModelManager   *modelmanager.Manager
	JobTracker     *jobtracker.Tracker
	RateLimiter    *middleware.RateLimiter
	SpeakerManager *speaker.Manager
	SpeakerHandler *speaker.Handler
	HTTPAPIHandler *httpapi.Handler
	FileTranscribe *filetranscribe.Handler
	WSGateway      *wsgateway.Handler
	HotReloadMgr   *config.HotReloadManager
}

// InitApp initializes all core components and returns the dependency container.
// All dependencies are explicitly created with the provided configuration.
func InitApp(cfg *config.Config, configPath string) (*AppDependencies, error) {
	logger.Info("initializing_components")

	logger.Info("initializing_hot_reload_manager")
	hotReloadMgr := config.NewHotReloadManager(cfg, configPath)
	hotReloadMgr.OnChange(func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Logging.Level)
		logger.Info("configuration_reloaded",
			"log_level", newCfg.Logging.Level,
			"still_voice_mode", newCfg.VAD.StillVoiceMode,
			"rate_limit_enabled", newCfg.RateLimit.Enabled,
		)
	})
	if err := hotReloadMgr.StartWatching(); err != nil {
		logger.Warn("failed_to_start_config_file_watching", "error", err)
	}

	logger.Info("initializing_job_tracker")
	jt := jobtracker.New()

	logger.Info("initializing_model_manager")
	mm := modelmanager.New(cfg)

	logger.Info("loading_auth_token_store", "tokens_path", cfg.Auth.TokensPath)
	tokenStore, err := session.LoadTokenStore(cfg.Auth.TokensPath)
	if err != nil {
		logger.Error("failed_to_load_token_store", "error", err)
		return nil, fmt.Errorf("failed to load token store: %w", err)
	}

	logger.Info("initializing_session_manager")
	sessionManager := session.NewManager(cfg, mm, jt, tokenStore)

	logger.Info("initializing_rate_limiter",
		"requests_per_second", cfg.RateLimit.RequestsPerSecond,
		"max_connections", cfg.RateLimit.MaxConnections,
	)
	rateLimiter := middleware.NewRateLimiter(
		cfg.RateLimit.Enabled,
		cfg.RateLimit.RequestsPerSecond,
		cfg.RateLimit.BurstSize,
		cfg.RateLimit.MaxConnections,
	)

	var speakerManager *speaker.Manager
	var speakerHandler *speaker.Handler
	if cfg.Diarization.Enabled {
		speakerManager = speaker.NewManager(mm)
		speakerHandler = speaker.NewHandler(speakerManager, cfg)
	}

	httpAPIHandler := httpapi.NewHandler(sessionManager, mm, jt, rateLimiter)
	fileTranscribeHandler := filetranscribe.NewHandler(cfg, mm, jt, tokenStore)
	wsGateway := wsgateway.NewHandler(cfg, sessionManager)

	logger.Info("all_components_initialized_successfully")
	return &AppDependencies{
		Config:         cfg,
		SessionManager: sessionManager,
		ModelManager:   mm,
		JobTracker:     jt,
		RateLimiter:    rateLimiter,
		SpeakerManager: speakerManager,
		SpeakerHandler: speakerHandler,
		HTTPAPIHandler: httpAPIHandler,
		FileTranscribe: fileTranscribeHandler,
		WSGateway:      wsGateway,
		HotReloadMgr:   hotReloadMgr,
	}, nil
}

// Shutdown releases resources owned by AppDependencies: it stops the config
// hot-reload watcher, then closes all sessions, then unloads all models.
func (d *AppDependencies) Shutdown() {
	logger.Info("shutting_down_application")
	if d.HotReloadMgr != nil {
		d.HotReloadMgr.Stop()
	}
	d.SessionManager.Shutdown()
	d.ModelManager.UnloadAll()
}
