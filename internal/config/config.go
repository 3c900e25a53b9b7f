// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	AWS         AWSConfig
	Solana      SolanaConfig
	Payment     PaymentConfig
	Pricing     PricingConfig
	Providers   ProvidersConfig
	Models      ModelPriceConfig
	Buyback     BuybackConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Driver       string // postgres or sqlite
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey string
	Issuer    string
}

// RedisConfig is optional; an empty Host keeps pending payments in process memory.
type RedisConfig struct {
	Host      string
	Port      string
	Password  string
	DB        int
	KeyPrefix string
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	CloudFrontURL   string
	ArtifactFolder  string
}

type SolanaConfig struct {
	Network           string
	RPCURL            string
	Commitment        string
	CollectionWallet  string
	TokenMint         string
	TokenSymbol       string
	TokenDecimals     int32
	NativeMint        string
	RequestTimeout    time.Duration
}

type PaymentConfig struct {
	FeePercent             float64
	PendingTTL             time.Duration
	ClaimTimeout           time.Duration
	AmountTolerancePercent float64
	Realm                  string
}

type PricingConfig struct {
	DexScreenerURL     string
	JupiterURL         string
	FallbackPriceUSD   float64
	NativeFallbackUSD  float64
	CacheTTL           time.Duration
	SourceTimeout      time.Duration
	ReferenceChargeUSD float64
	MaxReferenceTokens int64
}

type ProvidersConfig struct {
	KieBaseURL     string
	KieAPIKey      string
	RequestTimeout time.Duration
	CallbackURL    string
}

// ModelPriceConfig holds USD list prices per model id.
type ModelPriceConfig struct {
	ImageGPT      float64
	ImageIdeogram float64
	ImageQwen     float64
	VideoSora2    float64
	VideoVeo      float64
}

type BuybackConfig struct {
	Enabled          bool
	PumpPortalURL    string
	WalletPublicKey  string
	WalletPrivateKey string
	QueueSize        int
	BatchSize        int
	FlushInterval    time.Duration
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	SlippagePercent  float64
	PriorityFeeSOL   float64
	Pool             string
	RequestTimeout   time.Duration
}

type RateLimitConfig struct {
	GeneralPerSecond  float64
	GeneralBurst      int
	GeneratePerMinute float64
	GenerateBurst     int
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "payper"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:   getEnv("DB_SQLITE_PATH", "payper.db"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET", defaultJWTSecret),
			Issuer:    getEnv("JWT_ISSUER", "payper402"),
		},
		Redis: RedisConfig{
			Host:      getEnv("REDIS_HOST", ""),
			Port:      getEnv("REDIS_PORT", "6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "payper"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "payper-artifacts"),
			CloudFrontURL:   getEnv("AWS_CLOUDFRONT_URL", ""),
			ArtifactFolder:  getEnv("AWS_ARTIFACT_FOLDER", "generated"),
		},
		Solana: SolanaConfig{
			Network:          getEnv("SOLANA_NETWORK", "solana"),
			RPCURL:           getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
			Commitment:       getEnv("SOLANA_COMMITMENT", "confirmed"),
			CollectionWallet: getEnv("PAYMENT_COLLECTION_WALLET", ""),
			TokenMint:        getEnv("PAYMENT_TOKEN_MINT", ""),
			TokenSymbol:      getEnv("PAYMENT_TOKEN_SYMBOL", "PAYPER"),
			TokenDecimals:    int32(getEnvAsInt("PAYMENT_TOKEN_DECIMALS", 6)),
			NativeMint:       getEnv("SOLANA_NATIVE_MINT", "So11111111111111111111111111111111111111112"),
			RequestTimeout:   getEnvAsDuration("SOLANA_RPC_TIMEOUT", 10*time.Second),
		},
		Payment: PaymentConfig{
			FeePercent:             getEnvAsFloat("BUYBACK_FEE_PERCENT", 10),
			PendingTTL:             getEnvAsDuration("PAYMENT_PENDING_TTL", 15*time.Minute),
			ClaimTimeout:           getEnvAsDuration("PAYMENT_CLAIM_TIMEOUT", 2*time.Minute),
			AmountTolerancePercent: getEnvAsFloat("PAYMENT_AMOUNT_TOLERANCE_PERCENT", 5),
			Realm:                  getEnv("PAYMENT_REALM", "payper402"),
		},
		Pricing: PricingConfig{
			DexScreenerURL:     getEnv("PRICE_DEXSCREENER_URL", "https://api.dexscreener.com/latest/dex/tokens"),
			JupiterURL:         getEnv("PRICE_JUPITER_URL", "https://price.jup.ag/v4/price"),
			FallbackPriceUSD:   getEnvAsFloat("PRICE_FALLBACK_USD", 0.0001),
			NativeFallbackUSD:  getEnvAsFloat("PRICE_NATIVE_FALLBACK_USD", 150),
			CacheTTL:           getEnvAsDuration("PRICE_CACHE_TTL", 30*time.Second),
			SourceTimeout:      getEnvAsDuration("PRICE_SOURCE_TIMEOUT", 5*time.Second),
			ReferenceChargeUSD: getEnvAsFloat("PRICE_REFERENCE_CHARGE_USD", 0.03),
			MaxReferenceTokens: int64(getEnvAsInt("PRICE_MAX_REFERENCE_TOKENS", 100000)),
		},
		Providers: ProvidersConfig{
			KieBaseURL:     getEnv("KIE_API_BASE_URL", "https://api.kie.ai"),
			KieAPIKey:      getEnv("KIE_API_KEY", ""),
			RequestTimeout: getEnvAsDuration("PROVIDER_REQUEST_TIMEOUT", 20*time.Second),
			CallbackURL:    getEnv("PROVIDER_CALLBACK_URL", ""),
		},
		Models: ModelPriceConfig{
			ImageGPT:      getEnvAsFloat("PRICE_IMAGE_GPT", 0.042),
			ImageIdeogram: getEnvAsFloat("PRICE_IMAGE_IDEOGRAM", 0.066),
			ImageQwen:     getEnvAsFloat("PRICE_IMAGE_QWEN", 0.03),
			VideoSora2:    getEnvAsFloat("PRICE_VIDEO_SORA_2", 0.21),
			VideoVeo:      getEnvAsFloat("PRICE_VIDEO_VEO", 0.36),
		},
		Buyback: BuybackConfig{
			Enabled:          getEnvAsBool("BUYBACK_ENABLED", true),
			PumpPortalURL:    getEnv("PUMPPORTAL_API_URL", "https://pumpportal.fun/api/trade-local"),
			WalletPublicKey:  getEnv("BUYBACK_WALLET_PUBLIC_KEY", ""),
			WalletPrivateKey: getEnv("BUYBACK_WALLET_PRIVATE_KEY", ""),
			QueueSize:        getEnvAsInt("BUYBACK_QUEUE_SIZE", 1024),
			BatchSize:        getEnvAsInt("BUYBACK_BATCH_SIZE", 20),
			FlushInterval:    getEnvAsDuration("BUYBACK_FLUSH_INTERVAL", time.Minute),
			MaxAttempts:      getEnvAsInt("BUYBACK_MAX_ATTEMPTS", 3),
			InitialBackoff:   getEnvAsDuration("BUYBACK_INITIAL_BACKOFF", 2*time.Second),
			MaxBackoff:       getEnvAsDuration("BUYBACK_MAX_BACKOFF", 30*time.Second),
			SlippagePercent:  getEnvAsFloat("BUYBACK_SLIPPAGE_PERCENT", 15),
			PriorityFeeSOL:   getEnvAsFloat("BUYBACK_PRIORITY_FEE_SOL", 0.001),
			Pool:             getEnv("BUYBACK_POOL", "auto"),
			RequestTimeout:   getEnvAsDuration("BUYBACK_REQUEST_TIMEOUT", 15*time.Second),
		},
		RateLimit: RateLimitConfig{
			GeneralPerSecond:  getEnvAsFloat("RATE_LIMIT_GENERAL_PER_SECOND", 10),
			GeneralBurst:      getEnvAsInt("RATE_LIMIT_GENERAL_BURST", 20),
			GeneratePerMinute: getEnvAsFloat("RATE_LIMIT_GENERATE_PER_MINUTE", 30),
			GenerateBurst:     getEnvAsInt("RATE_LIMIT_GENERATE_BURST", 10),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.Payment.FeePercent < 0 || c.Payment.FeePercent >= 100 {
		return fmt.Errorf("buyback fee percent must be in [0, 100), got %v", c.Payment.FeePercent)
	}

	if c.Pricing.FallbackPriceUSD <= 0 {
		return fmt.Errorf("fallback token price must be positive")
	}

	if c.Buyback.MaxAttempts < 1 {
		return fmt.Errorf("buyback max attempts must be at least 1")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Environment != "production" {
		return nil
	}

	if c.JWT.SecretKey == defaultJWTSecret {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Driver == "postgres" && c.Database.Password == "" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Solana.CollectionWallet == "" || c.Solana.TokenMint == "" {
		return fmt.Errorf("payment collection wallet and token mint are required in production")
	}

	if c.Providers.KieAPIKey == "" {
		return fmt.Errorf("provider API key is required in production")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
