// =============================================================================
// 📦 docintake 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Auth:        DefaultAuthConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		LLM:         DefaultLLMConfig(),
		Batch:       DefaultBatchConfig(),
		Quota:       DefaultQuotaConfig(),
		Cache:       DefaultCacheConfig(),
		Persistence: DefaultPersistenceConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MaxUploadBytes:  64 << 20,
		MaxConnections:  0,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultAuthConfig 返回默认身份配置
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		AnonymousUserID: "anonymous",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		TLS:          TLSConfig{MinVersion: "1.2"},
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "docintake",
		Password:        "",
		Name:            "docintake",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		APIKey:            "",
		BaseURL:           "https://api.openai.com/v1",
		ClassifierModel:   "gpt-4o-mini",
		ExtractionModel:   "gpt-4o-mini",
		VisionModel:       "gpt-4o-mini",
		PromptModel:       "gpt-4o",
		Timeout:           2 * time.Minute,
		MaxRetries:        3,
		RequestsPerSecond: 0,
		Burst:             10,
		MaxContentTokens:  100000,

		BreakerThreshold:    5,
		BreakerResetTimeout: 30 * time.Second,

		TLS:            TLSConfig{MinVersion: "1.2"},
		RasterDPI:      150,
		RasterMaxPages: 10,
	}
}

// DefaultBatchConfig 返回默认批处理配置
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxConcurrentDocs:    5,
		PageCeiling:          50,
		ErrorMessageLimit:    500,
		ClassifySnippetChars: 2000,
		ShortTextThreshold:   50,
		FileTimeout:          5 * time.Minute,
	}
}

// DefaultQuotaConfig 返回默认配额配置
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		Backend:          "redis",
		MonthlyPageLimit: 1000,
		KeyPrefix:        "docintake:quota:",
		Timeout:          2 * time.Second,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:      "multilevel",
		Dir:          ".cache",
		LocalMaxSize: 1000,
		TTL:          0,
		KeyPrefix:    "docintake:cache:",
		Versions: StageVersions{
			Classification: "v1",
			Representation: "v1",
			Extraction:     "v1",
			Prompt:         "v1",
		},
	}
}

// DefaultPersistenceConfig 返回默认持久化配置
func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Enabled:       true,
		Writers:       []string{"database"},
		Workers:       4,
		QueueSize:     256,
		WriteTimeout:  10 * time.Second,
		MaxAttempts:   3,
		RunLogPath:    "",
		MongoURI:      "mongodb://localhost:27017",
		MongoDatabase: "docintake",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "docintake",
		SampleRate:   0.1,
	}
}
