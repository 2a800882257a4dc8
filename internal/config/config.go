package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"

	StorageLocal      = "local"
	StorageCloudinary = "cloudinary"
	StorageS3         = "s3"

	MailDev      = "dev"
	MailPostmark = "postmark"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"8080"`
	Host        string `env:"HOST" envDefault:"http://localhost:8080"` // Raw HOST env (e.g. https://api.example.com)
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	TrustProxy  bool   `env:"TRUST_PROXY" envDefault:"false"`

	FrontendURL    string   `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	FrontendURL2   string   `env:"FRONTEND_URL_2"`
	FrontendURL3   string   `env:"FRONTEND_URL_3"`
	RawOrigins     []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	AllowedOrigins []string // CORS: from ALLOWED_ORIGINS or FRONTEND_URL(s)
	AllowedHost    string   // Hostname only for strict host check (production only)

	StoreDriver string `env:"STORE_DRIVER" envDefault:"mongo"`
	MongoURI    string `env:"MONGODB_URI" envDefault:"mongodb://localhost:27017/identity"`
	RedisURI    string `env:"REDIS_URI"` // empty disables Redis

	RoleCacheTTL time.Duration `env:"ROLE_CACHE_TTL" envDefault:"8h"`

	JWT     JWTConfig
	Hashing HashingConfig
	Storage StorageConfig
	Mail    MailConfig

	AuthRateLimit  int           `env:"AUTH_RATE_LIMIT" envDefault:"5"`
	AuthRateWindow time.Duration `env:"AUTH_RATE_WINDOW" envDefault:"15m"`
}

type JWTConfig struct {
	AccessSecret string        `env:"JWT_SECRET"`
	ResetSecret  string        `env:"JWT_RESET_SECRET"`
	AccessTTL    time.Duration `env:"JWT_ACCESS_TTL" envDefault:"24h"`
	ResetTTL     time.Duration `env:"JWT_RESET_TTL" envDefault:"10m"`
	Issuer       string        `env:"JWT_ISSUER" envDefault:"identity-backend"`
}

type HashingConfig struct {
	BcryptCost int `env:"BCRYPT_COST" envDefault:"12"`
	Workers    int `env:"HASH_WORKERS" envDefault:"0"` // 0 means one per CPU
}

type StorageConfig struct {
	Driver    string `env:"STORAGE_DRIVER" envDefault:"local"`
	UploadDir string `env:"UPLOAD_DIR" envDefault:"uploads"`
	BaseURL   string `env:"UPLOAD_BASE_URL" envDefault:"/uploads/"`

	CloudinaryName      string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET"`
	CloudinaryFolder    string `env:"CLOUDINARY_FOLDER" envDefault:"identity"`

	S3Bucket         string `env:"S3_BUCKET"`
	S3Region         string `env:"S3_REGION"`
	S3Endpoint       string `env:"S3_ENDPOINT"`
	S3AccessKeyID    string `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey      string `env:"S3_SECRET_ACCESS_KEY"`
	S3PublicURL      string `env:"S3_PUBLIC_URL"`
	S3ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE"`
}

type MailConfig struct {
	Driver               string `env:"MAIL_DRIVER" envDefault:"dev"`
	DevDir               string `env:"MAIL_DEV_DIR" envDefault:"tmp/emails"`
	From                 string `env:"MAIL_FROM" envDefault:"no-reply@localhost"`
	ReplyTo              string `env:"MAIL_REPLY_TO"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
}

// Load parses the environment. Call godotenv first to pick up a .env file.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	// AllowedHost is only set in production; host check is skipped in development
	if cfg.IsProduction() {
		cfg.AllowedHost = bareHost(cfg.Host)
	}
	cfg.AllowedOrigins = resolveOrigins(cfg)
	return &cfg, nil
}

// Validate reports every setting that would stop the server from working.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.AccessSecret == "" || c.JWT.ResetSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET and JWT_RESET_SECRET are required"))
	} else if c.JWT.AccessSecret == c.JWT.ResetSecret {
		errs = append(errs, errors.New("JWT_SECRET and JWT_RESET_SECRET must differ"))
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.ResetTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	switch c.StoreDriver {
	case StoreMongo, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	switch c.Storage.Driver {
	case StorageLocal:
	case StorageCloudinary:
		if c.Storage.CloudinaryName == "" || c.Storage.CloudinaryAPIKey == "" || c.Storage.CloudinaryAPISecret == "" {
			errs = append(errs, errors.New("cloudinary storage needs CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET"))
		}
	case StorageS3:
		if c.Storage.S3Bucket == "" || c.Storage.S3Region == "" {
			errs = append(errs, errors.New("s3 storage needs S3_BUCKET and S3_REGION"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}
	switch c.Mail.Driver {
	case MailDev:
	case MailPostmark:
		if c.Mail.PostmarkServerToken == "" {
			errs = append(errs, errors.New("postmark mail needs POSTMARK_SERVER_TOKEN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_DRIVER %q", c.Mail.Driver))
	}
	if c.AuthRateLimit <= 0 || c.AuthRateWindow <= 0 {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT and AUTH_RATE_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

// resolveOrigins prefers ALLOWED_ORIGINS, then the FRONTEND_URL* values. When
// HOST is a backend subdomain, the bare and www domains are added too.
func resolveOrigins(c Config) []string {
	var origins []string
	for _, o := range c.RawOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		for _, u := range []string{c.FrontendURL, c.FrontendURL2, c.FrontendURL3} {
			if u = strings.TrimSpace(u); u != "" {
				origins = append(origins, u)
			}
		}
	}

	host := bareHost(c.Host)
	if host != "" && host != "localhost" {
		parts := strings.Split(host, ".")
		if len(parts) >= 2 {
			domain := strings.Join(parts[1:], ".")
			for _, origin := range []string{"https://" + domain, "https://www." + domain} {
				if !containsOrigin(origins, origin) {
					origins = append(origins, origin)
				}
			}
		}
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return origins
}

// bareHost strips scheme, path and port from a HOST value.
func bareHost(host string) string {
	for _, prefix := range []string{"https://", "http://"} {
		host = strings.TrimPrefix(host, prefix)
	}
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return strings.TrimSpace(host)
}

func containsOrigin(list []string, o string) bool {
	o = strings.TrimSpace(strings.ToLower(o))
	for _, v := range list {
		if strings.TrimSpace(strings.ToLower(v)) == o {
			return true
		}
	}
	return false
}
