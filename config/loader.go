// =============================================================================
// 📦 docintake 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("DOCINTAKE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量 → 兼容环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 docintake 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Auth 身份解析配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Batch 批处理编排配置
	Batch BatchConfig `yaml:"batch" env:"BATCH"`

	// Quota 页数配额配置
	Quota QuotaConfig `yaml:"quota" env:"QUOTA"`

	// Cache 阶段缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Persistence 延迟持久化配置
	Persistence PersistenceConfig `yaml:"persistence" env:"PERSISTENCE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（批处理同步返回，需覆盖整批耗时）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 上传请求体上限（字节）
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	// 同时打开的连接上限，0 表示不限制
	MaxConnections int `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	// 每 IP 限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的跨域来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// AuthConfig 身份解析配置。令牌签发与校验策略由外部系统负责。
type AuthConfig struct {
	// API Key 列表，为空时不启用
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// JWT HMAC 密钥
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// JWT RSA 公钥（PEM）
	JWTPublicKey string `yaml:"jwt_public_key" env:"JWT_PUBLIC_KEY"`
	// 期望的签发方
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	// 期望的受众
	JWTAudience string `yaml:"jwt_audience" env:"JWT_AUDIENCE"`
	// 未认证请求使用的用户 ID，为空时拒绝匿名请求
	AnonymousUserID string `yaml:"anonymous_user_id" env:"ANONYMOUS_USER_ID"`
}

// JWTEnabled reports whether any JWT verification key is configured.
func (a AuthConfig) JWTEnabled() bool {
	return a.JWTSecret != "" || a.JWTPublicKey != ""
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// TLS 连接设置
	TLS TLSConfig `yaml:"tls" env:"TLS"`
}

// TLSConfig 出站连接的 TLS 设置
type TLSConfig struct {
	// 是否启用（仅对 Redis 生效，HTTPS 客户端总是使用 TLS）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 最低协议版本: 1.2, 1.3
	MinVersion string `yaml:"min_version" env:"MIN_VERSION"`
	// 额外信任的 CA 证书（PEM）
	CAFile string `yaml:"ca_file" env:"CA_FILE"`
	// 覆盖证书校验用的主机名
	ServerName string `yaml:"server_name" env:"SERVER_NAME"`
	// 跳过证书校验，仅用于开发环境
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LLMConfig LLM 配置（OpenAI 兼容接口）
type LLMConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 文档分类模型
	ClassifierModel string `yaml:"classifier_model" env:"CLASSIFIER_MODEL"`
	// 字段抽取模型
	ExtractionModel string `yaml:"extraction_model" env:"EXTRACTION_MODEL"`
	// 视觉（Markdown 表示生成）模型
	VisionModel string `yaml:"vision_model" env:"VISION_MODEL"`
	// 系统提示词合成模型
	PromptModel string `yaml:"prompt_model" env:"PROMPT_MODEL"`
	// 单次请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 请求速率（每秒），0 表示不限
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// 突发请求数
	Burst int `yaml:"burst" env:"BURST"`
	// 抽取内容的 Token 上限
	MaxContentTokens int `yaml:"max_content_tokens" env:"MAX_CONTENT_TOKENS"`
	// 连续上游失败多少次后熔断，0 表示不启用
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	// 熔断后多久放行试探请求
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
	// TLS 设置
	TLS TLSConfig `yaml:"tls" env:"TLS"`
	// PDF 渲染命令（pdftoppm），为空时不走 PDF 视觉路径
	PDFRasterizer string `yaml:"pdf_rasterizer" env:"PDF_RASTERIZER"`
	// 渲染分辨率
	RasterDPI int `yaml:"raster_dpi" env:"RASTER_DPI"`
	// 单个 PDF 最多渲染的页数，0 表示不限
	RasterMaxPages int `yaml:"raster_max_pages" env:"RASTER_MAX_PAGES"`
}

// BatchConfig 批处理编排配置
type BatchConfig struct {
	// 同时处理的文件数上限（全局信号量）
	MaxConcurrentDocs int `yaml:"max_concurrent_docs" env:"MAX_CONCURRENT_DOCS"`
	// 单批次页数上限
	PageCeiling int `yaml:"page_ceiling" env:"PAGE_CEILING"`
	// 单文件错误信息最大长度（字符）
	ErrorMessageLimit int `yaml:"error_message_limit" env:"ERROR_MESSAGE_LIMIT"`
	// 分类片段长度（字符）
	ClassifySnippetChars int `yaml:"classify_snippet_chars" env:"CLASSIFY_SNIPPET_CHARS"`
	// 短文本阈值（字符），低于阈值直接走 basic
	ShortTextThreshold int `yaml:"short_text_threshold" env:"SHORT_TEXT_THRESHOLD"`
	// 单文件流水线超时
	FileTimeout time.Duration `yaml:"file_timeout" env:"FILE_TIMEOUT"`
}

// QuotaConfig 页数配额配置
type QuotaConfig struct {
	// 后端: redis, database, memory, none
	Backend string `yaml:"backend" env:"BACKEND"`
	// 每月页数上限
	MonthlyPageLimit int `yaml:"monthly_page_limit" env:"MONTHLY_PAGE_LIMIT"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 单次账本调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CacheConfig 阶段缓存配置
type CacheConfig struct {
	// 后端: memory, redis, file, multilevel
	Backend string `yaml:"backend" env:"BACKEND"`
	// 文件缓存目录
	Dir string `yaml:"dir" env:"DIR"`
	// 本地 LRU 容量
	LocalMaxSize int `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"`
	// Redis 条目过期时间，0 表示不过期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 各阶段逻辑版本，变更后旧条目自然失效
	Versions StageVersions `yaml:"versions" env:"VERSIONS"`
}

// StageVersions 各流水线阶段的缓存命名空间版本
type StageVersions struct {
	Classification string `yaml:"classification" env:"CLASSIFICATION"`
	Representation string `yaml:"representation" env:"REPRESENTATION"`
	Extraction     string `yaml:"extraction" env:"EXTRACTION"`
	Prompt         string `yaml:"prompt" env:"PROMPT"`
}

// PersistenceConfig 延迟持久化配置
type PersistenceConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 写入目标: database, mongo（逗号分隔可多选）
	Writers []string `yaml:"writers" env:"WRITERS"`
	// 后台 worker 数
	Workers int `yaml:"workers" env:"WORKERS"`
	// 队列长度
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// 单次写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 单条记录最大尝试次数
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// JSONL 运行日志路径，为空时不写
	RunLogPath string `yaml:"run_log_path" env:"RUN_LOG_PATH"`
	// MongoDB 连接串
	MongoURI string `yaml:"mongo_uri" env:"MONGO_URI"`
	// MongoDB 数据库名
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DATABASE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
	lookupEnv  func(string) string
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DOCINTAKE",
		validators: make([]func(*Config) error, 0),
		lookupEnv:  os.Getenv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量 → 兼容环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := l.applyLegacyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load legacy env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := l.lookupEnv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// applyLegacyEnv 兼容不带前缀的历史环境变量。
func (l *Loader) applyLegacyEnv(cfg *Config) error {
	if v := l.lookupEnv("MAX_CONCURRENT_DOCS"); v != "" {
		n, err := strconv.Atoi(v)
		// 非法值保持原配置
		if err == nil && n > 0 {
			cfg.Batch.MaxConcurrentDocs = n
		}
	}
	if v := l.lookupEnv("EXTRACTION_MODEL"); v != "" {
		cfg.LLM.ExtractionModel = v
	}
	if v := l.lookupEnv("VISION_MODEL"); v != "" {
		cfg.LLM.VisionModel = v
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = l.lookupEnv("OPENAI_API_KEY")
	}
	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Batch.MaxConcurrentDocs <= 0 {
		errs = append(errs, "batch.max_concurrent_docs must be positive")
	}
	if c.Batch.PageCeiling <= 0 {
		errs = append(errs, "batch.page_ceiling must be positive")
	}
	if c.Quota.MonthlyPageLimit <= 0 {
		errs = append(errs, "quota.monthly_page_limit must be positive")
	}
	switch c.Quota.Backend {
	case "redis", "database", "memory", "none":
	default:
		errs = append(errs, fmt.Sprintf("unknown quota backend %q", c.Quota.Backend))
	}
	switch c.Cache.Backend {
	case "memory", "redis", "file", "multilevel":
	default:
		errs = append(errs, fmt.Sprintf("unknown cache backend %q", c.Cache.Backend))
	}
	for _, t := range []struct {
		name string
		cfg  TLSConfig
	}{{"redis.tls", c.Redis.TLS}, {"llm.tls", c.LLM.TLS}} {
		switch t.cfg.MinVersion {
		case "", "1.2", "1.3":
		default:
			errs = append(errs, fmt.Sprintf("%s.min_version must be 1.2 or 1.3", t.name))
		}
	}
	if c.Cache.Backend == "file" && c.Cache.Dir == "" {
		errs = append(errs, "cache.dir is required for the file backend")
	}
	for _, w := range c.Persistence.Writers {
		switch w {
		case "database", "mongo":
		default:
			errs = append(errs, fmt.Sprintf("unknown persistence writer %q", w))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
