package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ============================================================================
// Configuration Constants
// ============================================================================

const (
	// Environment variable prefix
	EnvPrefix = "STREAMSPEECH"

	// Default server settings
	DefaultServerPort        = 8080
	DefaultServerHost        = "0.0.0.0"
	DefaultMaxConnections    = 1000
	DefaultReadTimeout       = 30
	DefaultWebSocketMsgSize  = 2097152 // 2MB
	DefaultWebSocketBufSize  = 1024
	DefaultEnableCompression = true

	// Default session settings
	DefaultSendQueueSize = 500
	DefaultMaxSendErrors = 10
	DefaultAuthTimeout   = 10 // seconds, spec P6

	// Default recorder settings (spec §3, §9 recommended defaults)
	DefaultFrameSize               = 512
	DefaultMinUtteranceDuration    = 0.5
	DefaultPreRollDuration         = 0.2
	DefaultPostSpeechSilence       = 0.6
	DefaultMaxContinuousSilence    = 5.0
	DefaultMinGapBetweenRecordings = 1.0
	DefaultPreviewMinIntervalMS    = 500

	// Default VAD settings
	DefaultEnergySensitivity  = 1.0
	DefaultNeuralSensitivity  = 0.5
	DefaultVADModelPath       = "models/silero_vad.onnx"
	DefaultVADWindowSize      = 512
	DefaultVADBufferSizeSecs  = 10.0
	DefaultStillVoiceUsesOnly = "energy"

	// Default audio settings
	DefaultSampleRate      = 16000
	DefaultFeatureDim      = 80
	DefaultNormalizeFactor = 32768.0
	DefaultChunkSize       = 4096

	// Default rate limit settings
	DefaultRateLimitEnabled = false
	DefaultRequestsPerSec   = 100
	DefaultBurstSize        = 200

	// Default response settings
	DefaultSendMode = "queue"
	DefaultTimeout  = 30

	// Default logging settings
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultLogOutput     = "console"
	DefaultLogMaxSize    = 100
	DefaultLogMaxBackups = 5
	DefaultLogMaxAge     = 30
	DefaultLogCompress   = true

	// Port constraints
	MinPort = 1
	MaxPort = 65535

	// Hot reload settings
	DefaultDebounceDuration = 2 * time.Second

	// Default recognition settings
	DefaultBeamSize   = 5
	DefaultBatchSize  = 8
	DefaultNumThreads = 4
	DefaultProvider   = "cpu"

	// Diarization
	DefaultSpeakerThreshold = 0.5
)

// Valid value sets for validation
var (
	ValidLogLevels  = []string{"debug", "info", "warn", "error"}
	ValidLogFormats = []string{"text", "json"}
	ValidLogOutputs = []string{"console", "file", "both"}
	ValidSendModes  = []string{"queue", "direct"}
	ValidProviders  = []string{"cpu", "cuda", "coreml"}
	ValidStillVoice = []string{"energy", "both"}
)

// ============================================================================
// Configuration Errors
// ============================================================================

var (
	ErrInvalidPort            = errors.New("server port must be between 1 and 65535")
	ErrInvalidLogLevel        = errors.New("invalid log level")
	ErrInvalidLogFormat       = errors.New("invalid log format")
	ErrInvalidLogOutput       = errors.New("invalid log output")
	ErrInvalidSendMode        = errors.New("invalid send mode")
	ErrNegativeValue          = errors.New("value must be non-negative")
	ErrInvalidThreshold       = errors.New("threshold must be between 0 and 1")
	ErrInvalidSampleRate      = errors.New("sample rate must be positive")
	ErrInvalidNormalizeFactor = errors.New("normalize factor must be positive")
	ErrInvalidStillVoiceMode  = errors.New("invalid still-voice mode")
)

// ============================================================================
// Configuration Structures
// ============================================================================

// Config represents the application configuration.
// This is an immutable value type - create new instances for changes.
type Config struct {
	Server            ServerConfig            `mapstructure:"server"`
	Session           SessionConfig           `mapstructure:"session"`
	Recorder          RecorderConfig          `mapstructure:"recorder"`
	VAD               VADConfig               `mapstructure:"vad"`
	MainTranscriber   MainTranscriberConfig   `mapstructure:"main_transcriber"`
	LiveTranscriber   LiveTranscriberConfig   `mapstructure:"live_transcriber"`
	Diarization       DiarizationConfig       `mapstructure:"diarization"`
	LongformRecording LongformRecordingConfig `mapstructure:"longform_recording"`
	Audio             AudioConfig             `mapstructure:"audio"`
	RateLimit         RateLimitConfig         `mapstructure:"rate_limit"`
	Response          ResponseConfig          `mapstructure:"response"`
	Logging           LoggingConfig           `mapstructure:"logging"`
	Auth              AuthConfig              `mapstructure:"auth"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port           int             `mapstructure:"port"`
	Host           string          `mapstructure:"host"`
	MaxConnections int             `mapstructure:"max_connections"`
	ReadTimeout    int             `mapstructure:"read_timeout"`
	WebSocket      WebSocketConfig `mapstructure:"websocket"`
}

// WebSocketConfig holds WebSocket-specific settings
type WebSocketConfig struct {
	ReadTimeout       int      `mapstructure:"read_timeout"`
	MaxMessageSize    int      `mapstructure:"max_message_size"`
	ReadBufferSize    int      `mapstructure:"read_buffer_size"`
	WriteBufferSize   int      `mapstructure:"write_buffer_size"`
	EnableCompression bool     `mapstructure:"enable_compression"`
	AllowAllOrigins   bool     `mapstructure:"allow_all_origins"`
	AllowedOrigins    []string `mapstructure:"allowed_origins"`
	AuthTimeoutSec    int      `mapstructure:"auth_timeout_seconds"`
}

// SessionConfig holds session-related configuration
type SessionConfig struct {
	SendQueueSize int `mapstructure:"send_queue_size"`
	MaxSendErrors int `mapstructure:"max_send_errors"`
}

// RecorderConfig holds Recorder state-machine tunables (spec §3, §9)
type RecorderConfig struct {
	FrameSize               int     `mapstructure:"frame_size"`
	MinUtteranceDuration    float64 `mapstructure:"min_length_of_recording"`
	PreRollDuration         float64 `mapstructure:"pre_recording_buffer_duration"`
	PostSpeechSilence       float64 `mapstructure:"post_speech_silence_duration"`
	MaxContinuousSilence    float64 `mapstructure:"max_continuous_silence"`
	MinGapBetweenRecordings float64 `mapstructure:"min_gap_between_recordings"`
	PreviewMinIntervalMS    int     `mapstructure:"preview_min_interval_ms"`
}

// VADConfig holds dual-stage VAD tunables
type VADConfig struct {
	EnergySensitivity float32 `mapstructure:"webrtc_sensitivity"`
	NeuralSensitivity float32 `mapstructure:"silero_sensitivity"`
	ModelPath         string  `mapstructure:"model_path"`
	WindowSize        int     `mapstructure:"window_size"`
	BufferSizeSeconds float32 `mapstructure:"buffer_size_seconds"`
	StillVoiceMode    string  `mapstructure:"still_voice_mode"` // "energy" or "both"
}

// MainTranscriberConfig configures the shared file/live-shared engine (spec §6.1)
type MainTranscriberConfig struct {
	Model             string  `mapstructure:"model"`
	TokensPath        string  `mapstructure:"tokens_path"`
	Device            string  `mapstructure:"device"`
	ComputeType       string  `mapstructure:"compute_type"`
	BeamSize          int     `mapstructure:"beam_size"`
	BatchSize         int     `mapstructure:"batch_size"`
	SileroSensitivity float32 `mapstructure:"silero_sensitivity"`
	WebrtcSensitivity float32 `mapstructure:"webrtc_sensitivity"`
	PostSpeechSilence float64 `mapstructure:"post_speech_silence_duration"`
	PreRollDuration   float64 `mapstructure:"pre_recording_buffer_duration"`
	MinLength         float64 `mapstructure:"min_length_of_recording"`
	MinGap            float64 `mapstructure:"min_gap_between_recordings"`
	NumThreads        int     `mapstructure:"num_threads"`
	Provider          string  `mapstructure:"provider"`
	UseITN            bool    `mapstructure:"use_inverse_text_normalization"`
	Debug             bool    `mapstructure:"debug"`
}

// LiveTranscriberConfig configures the per-session realtime engine (spec §4.4, §6.1)
type LiveTranscriberConfig struct {
	Enabled                  bool    `mapstructure:"enabled"`
	Model                    string  `mapstructure:"model"`
	TokensPath               string  `mapstructure:"tokens_path"`
	PostSpeechSilence        float64 `mapstructure:"post_speech_silence_duration"`
	EarlyTranscriptOnSilence bool    `mapstructure:"early_transcription_on_silence"`
	NumThreads               int     `mapstructure:"num_threads"`
	Provider                 string  `mapstructure:"provider"`
}

// DiarizationConfig configures the singleton diarization engine
type DiarizationConfig struct {
	Model      string  `mapstructure:"model"`
	NumThreads int     `mapstructure:"num_threads"`
	Provider   string  `mapstructure:"provider"`
	Threshold  float32 `mapstructure:"threshold"`
	DataDir    string  `mapstructure:"data_dir"`
	Enabled    bool    `mapstructure:"enabled"`
}

// LongformRecordingConfig holds default-language settings
type LongformRecordingConfig struct {
	Language string `mapstructure:"language"` // empty -> auto-detect
}

// AudioConfig holds audio processing configuration
type AudioConfig struct {
	SampleRate      int     `mapstructure:"sample_rate"`
	FeatureDim      int     `mapstructure:"feature_dim"`
	NormalizeFactor float32 `mapstructure:"normalize_factor"`
	ChunkSize       int     `mapstructure:"chunk_size"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerSecond int  `mapstructure:"requests_per_second"`
	BurstSize         int  `mapstructure:"burst_size"`
	MaxConnections    int  `mapstructure:"max_connections"`
}

// ResponseConfig holds response handling configuration
type ResponseConfig struct {
	SendMode string `mapstructure:"send_mode"`
	Timeout  int    `mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AuthConfig holds token-store/localhost-bypass configuration
type AuthConfig struct {
	TokensPath     string `mapstructure:"tokens_path"`
	RequireToken   bool   `mapstructure:"require_token"`
	LocalhostAdmin bool   `mapstructure:"localhost_admin"`
}

// ============================================================================
// Configuration Loading
// ============================================================================

// Load reads configuration from file and environment, returning an immutable Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/streamspeech/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Println("[WARN] Config file not found, using defaults")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		fmt.Printf("[INFO] Using config file: %s\n", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration and panics on error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.host", DefaultServerHost)
	v.SetDefault("server.max_connections", DefaultMaxConnections)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.websocket.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.websocket.max_message_size", DefaultWebSocketMsgSize)
	v.SetDefault("server.websocket.read_buffer_size", DefaultWebSocketBufSize)
	v.SetDefault("server.websocket.write_buffer_size", DefaultWebSocketBufSize)
	v.SetDefault("server.websocket.enable_compression", DefaultEnableCompression)
	v.SetDefault("server.websocket.allow_all_origins", true)
	v.SetDefault("server.websocket.allowed_origins", []string{})
	v.SetDefault("server.websocket.auth_timeout_seconds", DefaultAuthTimeout)

	v.SetDefault("session.send_queue_size", DefaultSendQueueSize)
	v.SetDefault("session.max_send_errors", DefaultMaxSendErrors)

	v.SetDefault("recorder.frame_size", DefaultFrameSize)
	v.SetDefault("recorder.min_length_of_recording", DefaultMinUtteranceDuration)
	v.SetDefault("recorder.pre_recording_buffer_duration", DefaultPreRollDuration)
	v.SetDefault("recorder.post_speech_silence_duration", DefaultPostSpeechSilence)
	v.SetDefault("recorder.max_continuous_silence", DefaultMaxContinuousSilence)
	v.SetDefault("recorder.min_gap_between_recordings", DefaultMinGapBetweenRecordings)
	v.SetDefault("recorder.preview_min_interval_ms", DefaultPreviewMinIntervalMS)

	v.SetDefault("vad.webrtc_sensitivity", DefaultEnergySensitivity)
	v.SetDefault("vad.silero_sensitivity", DefaultNeuralSensitivity)
	v.SetDefault("vad.model_path", DefaultVADModelPath)
	v.SetDefault("vad.window_size", DefaultVADWindowSize)
	v.SetDefault("vad.buffer_size_seconds", DefaultVADBufferSizeSecs)
	v.SetDefault("vad.still_voice_mode", DefaultStillVoiceUsesOnly)

	v.SetDefault("main_transcriber.device", "cpu")
	v.SetDefault("main_transcriber.compute_type", "int8")
	v.SetDefault("main_transcriber.beam_size", DefaultBeamSize)
	v.SetDefault("main_transcriber.batch_size", DefaultBatchSize)
	v.SetDefault("main_transcriber.silero_sensitivity", DefaultNeuralSensitivity)
	v.SetDefault("main_transcriber.webrtc_sensitivity", DefaultEnergySensitivity)
	v.SetDefault("main_transcriber.post_speech_silence_duration", DefaultPostSpeechSilence)
	v.SetDefault("main_transcriber.pre_recording_buffer_duration", DefaultPreRollDuration)
	v.SetDefault("main_transcriber.min_length_of_recording", DefaultMinUtteranceDuration)
	v.SetDefault("main_transcriber.min_gap_between_recordings", DefaultMinGapBetweenRecordings)
	v.SetDefault("main_transcriber.num_threads", DefaultNumThreads)
	v.SetDefault("main_transcriber.provider", DefaultProvider)

	v.SetDefault("live_transcriber.enabled", false)
	v.SetDefault("live_transcriber.post_speech_silence_duration", 0.4)
	v.SetDefault("live_transcriber.early_transcription_on_silence", true)
	v.SetDefault("live_transcriber.num_threads", 2)
	v.SetDefault("live_transcriber.provider", DefaultProvider)

	v.SetDefault("diarization.enabled", false)
	v.SetDefault("diarization.num_threads", DefaultNumThreads)
	v.SetDefault("diarization.provider", DefaultProvider)
	v.SetDefault("diarization.threshold", DefaultSpeakerThreshold)

	v.SetDefault("longform_recording.language", "")

	v.SetDefault("audio.sample_rate", DefaultSampleRate)
	v.SetDefault("audio.feature_dim", DefaultFeatureDim)
	v.SetDefault("audio.normalize_factor", DefaultNormalizeFactor)
	v.SetDefault("audio.chunk_size", DefaultChunkSize)

	v.SetDefault("rate_limit.enabled", DefaultRateLimitEnabled)
	v.SetDefault("rate_limit.requests_per_second", DefaultRequestsPerSec)
	v.SetDefault("rate_limit.burst_size", DefaultBurstSize)
	v.SetDefault("rate_limit.max_connections", DefaultMaxConnections)

	v.SetDefault("response.send_mode", DefaultSendMode)
	v.SetDefault("response.timeout", DefaultTimeout)

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
	v.SetDefault("logging.output", DefaultLogOutput)
	v.SetDefault("logging.max_size", DefaultLogMaxSize)
	v.SetDefault("logging.max_backups", DefaultLogMaxBackups)
	v.SetDefault("logging.max_age", DefaultLogMaxAge)
	v.SetDefault("logging.compress", DefaultLogCompress)

	// Auth is on by default: the spec treats the auth handshake as the
	// normal path, with the localhost bypass covering tokenless local use.
	v.SetDefault("auth.require_token", true)
	v.SetDefault("auth.localhost_admin", true)
}

// ============================================================================
// Validation Functions
// ============================================================================

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	if err := validateServerConfig(&cfg.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateVADConfig(&cfg.VAD); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}
	if err := validateAudioConfig(&cfg.Audio); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := validateLoggingConfig(&cfg.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := validateResponseConfig(&cfg.Response); err != nil {
		return fmt.Errorf("response config: %w", err)
	}
	if err := validateRecorderConfig(&cfg.Recorder); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}
	return nil
}

func validateServerConfig(cfg *ServerConfig) error {
	if cfg.Port < MinPort || cfg.Port > MaxPort {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, cfg.Port)
	}
	if cfg.ReadTimeout < 0 {
		return fmt.Errorf("read_timeout: %w", ErrNegativeValue)
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("max_connections: %w", ErrNegativeValue)
	}
	return nil
}

func validateVADConfig(cfg *VADConfig) error {
	if cfg.EnergySensitivity < 0 || cfg.EnergySensitivity > 3 {
		return fmt.Errorf("%w: energy sensitivity got %f", ErrInvalidThreshold, cfg.EnergySensitivity)
	}
	if cfg.NeuralSensitivity < 0 || cfg.NeuralSensitivity > 1 {
		return fmt.Errorf("%w: neural sensitivity got %f", ErrInvalidThreshold, cfg.NeuralSensitivity)
	}
	if cfg.StillVoiceMode != "" && !containsString(ValidStillVoice, cfg.StillVoiceMode) {
		return fmt.Errorf("%w: got %q", ErrInvalidStillVoiceMode, cfg.StillVoiceMode)
	}
	return nil
}

func validateAudioConfig(cfg *AudioConfig) error {
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, cfg.SampleRate)
	}
	if cfg.NormalizeFactor <= 0 {
		return fmt.Errorf("%w: got %f", ErrInvalidNormalizeFactor, cfg.NormalizeFactor)
	}
	if cfg.ChunkSize < 0 {
		return fmt.Errorf("chunk_size: %w", ErrNegativeValue)
	}
	return nil
}

func validateLoggingConfig(cfg *LoggingConfig) error {
	if !containsString(ValidLogLevels, cfg.Level) {
		return fmt.Errorf("%w: got %q, expected one of %v", ErrInvalidLogLevel, cfg.Level, ValidLogLevels)
	}
	if !containsString(ValidLogFormats, cfg.Format) {
		return fmt.Errorf("%w: got %q, expected one of %v", ErrInvalidLogFormat, cfg.Format, ValidLogFormats)
	}
	if !containsString(ValidLogOutputs, cfg.Output) {
		return fmt.Errorf("%w: got %q, expected one of %v", ErrInvalidLogOutput, cfg.Output, ValidLogOutputs)
	}
	return nil
}

func validateResponseConfig(cfg *ResponseConfig) error {
	if !containsString(ValidSendModes, cfg.SendMode) {
		return fmt.Errorf("%w: got %q, expected one of %v", ErrInvalidSendMode, cfg.SendMode, ValidSendModes)
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout: %w", ErrNegativeValue)
	}
	return nil
}

func validateRecorderConfig(cfg *RecorderConfig) error {
	if cfg.FrameSize <= 0 {
		return fmt.Errorf("frame_size: %w", ErrNegativeValue)
	}
	if cfg.MinUtteranceDuration < 0 {
		return fmt.Errorf("min_length_of_recording: %w", ErrNegativeValue)
	}
	if cfg.PostSpeechSilence < 0 {
		return fmt.Errorf("post_speech_silence_duration: %w", ErrNegativeValue)
	}
	if cfg.MaxContinuousSilence < cfg.PostSpeechSilence {
		return fmt.Errorf("max_continuous_silence must be >= post_speech_silence_duration")
	}
	return nil
}

// containsString checks if a string is in a slice
func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// ============================================================================
// Sensitive Data Handling
// ============================================================================

// SensitiveKeywords contains keywords that indicate a field contains sensitive data.
var SensitiveKeywords = []string{
	"password", "passwd", "pwd",
	"secret", "private",
	"key", "apikey", "api_key",
	"token", "auth",
	"credential", "cred",
	"certificate", "cert",
}

// Mask masks a sensitive string, showing only first and last 2 characters.
func Mask(s string) string {
	if len(s) == 0 {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// MaskWithLength masks a string but preserves length information.
func MaskWithLength(s string) string {
	if len(s) == 0 {
		return ""
	}
	return fmt.Sprintf("[MASKED:%d]", len(s))
}

// IsSensitiveKey checks if a key name indicates sensitive data.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, keyword := range SensitiveKeywords {
		if strings.Contains(keyLower, keyword) {
			return true
		}
	}
	return false
}

// ============================================================================
// Debug Utilities
// ============================================================================

// ToSafeMap returns a map representation with sensitive values masked.
func (c *Config) ToSafeMap() map[string]interface{} {
	return map[string]interface{}{
		"server": map[string]interface{}{
			"host":            c.Server.Host,
			"port":            c.Server.Port,
			"max_connections": c.Server.MaxConnections,
		},
		"main_transcriber": map[string]interface{}{
			"model":    c.MainTranscriber.Model,
			"device":   c.MainTranscriber.Device,
			"provider": c.MainTranscriber.Provider,
		},
		"live_transcriber": map[string]interface{}{
			"enabled": c.LiveTranscriber.Enabled,
			"model":   c.LiveTranscriber.Model,
		},
		"diarization": map[string]interface{}{
			"enabled": c.Diarization.Enabled,
			"model":   c.Diarization.Model,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}
}

// PrintCompact outputs a single-line summary for log messages.
func (c *Config) PrintCompact() string {
	return fmt.Sprintf("server=%s:%d main_model=%s live_enabled=%t log=%s",
		c.Server.Host, c.Server.Port,
		c.MainTranscriber.Model,
		c.LiveTranscriber.Enabled,
		c.Logging.Level)
}

// Reload re-reads the configuration from the file and updates the current instance.
func (c *Config) Reload(configPath string) error {
	newCfg, err := Load(configPath)
	if err != nil {
		return err
	}
	*c = *newCfg
	return nil
}

// Addr returns the server address in "host:port" format
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ============================================================================
// Hot Reload Manager
// ============================================================================

// ConfigChangeCallback is the function type for configuration change callbacks.
type ConfigChangeCallback func(cfg *Config)

// HotReloadManager handles configuration hot reloading using Viper's built-in
// file watching capability.
type HotReloadManager struct {
	mu               sync.RWMutex
	v                *viper.Viper
	cfg              *Config
	configPath       string
	callbacks        []ConfigChangeCallback
	debounceDuration time.Duration
	debounceTimer    *time.Timer
	stopChan         chan struct{}
}

// NewHotReloadManager creates a new hot reload manager for the given config.
func NewHotReloadManager(cfg *Config, configPath string) *HotReloadManager {
	return &HotReloadManager{
		cfg:              cfg,
		configPath:       configPath,
		callbacks:        make([]ConfigChangeCallback, 0),
		debounceDuration: DefaultDebounceDuration,
		stopChan:         make(chan struct{}),
	}
}

// SetDebounceDuration sets the debounce duration for config changes.
func (m *HotReloadManager) SetDebounceDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debounceDuration = d
}

// OnChange registers a callback to be called when configuration changes.
func (m *HotReloadManager) OnChange(callback ConfigChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// StartWatching begins monitoring the configuration file for changes.
func (m *HotReloadManager) StartWatching() error {
	if m.configPath == "" {
		return nil
	}

	v := viper.New()
	m.v = v

	v.SetConfigFile(m.configPath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config for watching: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		m.handleConfigChange()
	})
	v.WatchConfig()

	fmt.Printf("[INFO] Started watching config file: %s\n", m.configPath)
	return nil
}

func (m *HotReloadManager) handleConfigChange() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}

	m.debounceTimer = time.AfterFunc(m.debounceDuration, func() {
		m.reloadAndNotify()
	})
}

func (m *HotReloadManager) reloadAndNotify() {
	fmt.Println("[INFO] Configuration file changed, reloading...")

	if err := m.cfg.Reload(m.configPath); err != nil {
		fmt.Printf("[ERROR] Failed to reload configuration: %v\n", err)
		return
	}

	fmt.Println("[INFO] Configuration reloaded successfully")

	m.mu.RLock()
	callbacks := make([]ConfigChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.RUnlock()

	for _, callback := range callbacks {
		go func(cb ConfigChangeCallback) {
			defer func() {
				if r := recover(); r != nil {
					fmt.Printf("[ERROR] Config callback panicked: %v\n", r)
				}
			}()
			cb(m.cfg)
		}(callback)
	}
}

// Stop gracefully stops the hot reload manager.
func (m *HotReloadManager) Stop() {
	close(m.stopChan)

	m.mu.Lock()
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	m.mu.Unlock()
}

// GetConfigPath returns the path of the watched config file.
func (m *HotReloadManager) GetConfigPath() string {
	return m.configPath
}
