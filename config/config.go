package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL string
	DBPath      string
	LogLevel    string
	UserAgent   string
	Proxy       ProxyConfig
	Scheduler   SchedulerConfig
	Run         RunConfig
	Match       MatchConfig
	S3          S3Config
	Vendors     map[string]*VendorConfig
}

type ProxyConfig struct {
	URL string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

// RunConfig bounds a single orchestrated run. Concurrency caps in-flight
// fetches globally, not per vendor; pacing is layered on top per vendor.
type RunConfig struct {
	Concurrency         int
	Deadline            time.Duration
	MaxListingsPerQuery int
}

type MatchConfig struct {
	Threshold float64
	Epsilon   float64
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type VendorConfig struct {
	ID            string                `yaml:"id"`
	Name          string                `yaml:"name"`
	Handler       string                `yaml:"handler"` // html | browser | brand
	BaseURL       string                `yaml:"base_url"`
	SearchURL     string                `yaml:"search_url"` // %s is the encoded query
	RateLimitMS   int                   `yaml:"rate_limit_ms"`
	MaxRetries    int                   `yaml:"max_retries"`
	BackoffBaseMS int                   `yaml:"backoff_base_ms"`
	MaxListings   int                   `yaml:"max_listings"`
	Brands        map[string]*BrandSite `yaml:"brands"`
}

// BrandSite declares how to scrape one brand domain: same traversal as the
// marketplace scrapers, selectors supplied as data.
type BrandSite struct {
	Domain    string      `yaml:"domain"`
	SearchURL string      `yaml:"search_url"`
	Selectors SelectorSet `yaml:"selectors"`
}

// SelectorSet lists CSS selectors tried in order until one yields text.
type SelectorSet struct {
	Result        []string `yaml:"result"`
	Link          []string `yaml:"link"`
	Name          []string `yaml:"name"`
	Price         []string `yaml:"price"`
	OriginalPrice []string `yaml:"original_price"`
	Stock         []string `yaml:"stock"`
	Image         []string `yaml:"image"`
}

// QuerySet maps a category to the product queries scraped for it.
type QuerySet struct {
	Categories map[string][]string `yaml:"categories"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      getEnv("DB_PATH", "pricepilot.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		UserAgent:   getEnv("SCRAPE_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"),
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Run: RunConfig{
			Concurrency:         getEnvInt("RUN_CONCURRENCY", 4),
			MaxListingsPerQuery: getEnvInt("RUN_MAX_LISTINGS_PER_QUERY", 5),
		},
		Match: MatchConfig{
			Threshold: getEnvFloat("MATCH_THRESHOLD", 0.72),
			Epsilon:   getEnvFloat("MATCH_EPSILON", 0.04),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Vendors: make(map[string]*VendorConfig),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	if deadline := os.Getenv("RUN_DEADLINE"); deadline != "" {
		if d, err := time.ParseDuration(deadline); err == nil {
			cfg.Run.Deadline = d
		}
	}

	if err := cfg.loadVendorConfigs(); err != nil {
		return nil, err
	}
	if len(cfg.Vendors) == 0 {
		return nil, fmt.Errorf("no vendor configs found under config/vendors")
	}

	return cfg, nil
}

func (c *Config) loadVendorConfigs() error {
	configDir := getEnv("VENDOR_CONFIG_DIR", "config/vendors")
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var vendor VendorConfig
		if err := yaml.Unmarshal(data, &vendor); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if vendor.ID == "" {
			return fmt.Errorf("%s: vendor config missing id", path)
		}

		c.Vendors[vendor.ID] = &vendor
	}

	return nil
}

// LoadQueries reads the category -> query-list mapping handed to a run.
func LoadQueries(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var qs QuerySet
	if err := yaml.Unmarshal(data, &qs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(qs.Categories) == 0 {
		return nil, fmt.Errorf("%s: no categories defined", path)
	}

	return qs.Categories, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
