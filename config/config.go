package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

type Config struct {
	Mode     string `mapstructure:"mode"`
	Dotenv   string `mapstructure:"dotenv"`
	Handlers struct {
		ExternalAPI struct {
			Port      string `mapstructure:"port"`
			CertFile  string `mapstructure:"certFile"`
			KeyFile   string `mapstructure:"keyFile"`
			EnableTLS bool   `mapstructure:"enableTLS"`
		} `mapstructure:"externalAPI"`
		Prometheus struct {
			Port      string `mapstructure:"port"`
			CertFile  string `mapstructure:"certFile"`
			KeyFile   string `mapstructure:"keyFile"`
			EnableTLS bool   `mapstructure:"enableTLS"`
		} `mapstructure:"prometheus"`
	} `mapstructure:"handlers"`
	Repositories struct {
		Postgres struct {
			Host              string `mapstructure:"host"`
			Password          string `mapstructure:"password"`
			Port              string `mapstructure:"port"`
			Username          string `mapstructure:"username"`
			DB                string `mapstructure:"db"`
			SSLMODE           string `mapstructure:"SSLMODE"`
			MAXCONWAITINGTIME int    `mapstructure:"MAXCONWAITINGTIME"`
		} `mapstructure:"postgres"`
		Redis struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"repositories"`
	Server struct {
		HTTPPort  string        `mapstructure:"HTTPPort"`
		Timeout   time.Duration `mapstructure:"HTTPTimeout"`
		RateLimit int           `mapstructure:"rateLimit"`
	} `mapstructure:"server"`
	GenAI     GenAIConfig     `mapstructure:"genai"`
	Encoder   EncoderConfig   `mapstructure:"encoder"`
	Geocoding GeocodingConfig `mapstructure:"geocoding"`
	WebSearch WebSearchConfig `mapstructure:"websearch"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	History   HistoryConfig   `mapstructure:"history"`
}

type GenAIConfig struct {
	APIKey         string        `mapstructure:"apiKey"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embeddingModel"`
	TextDimensions int32         `mapstructure:"textDimensions"`
	Timeout        time.Duration `mapstructure:"timeout"`
	CaptionTTL     time.Duration `mapstructure:"captionTTL"`
}

// EncoderConfig points at the sidecar that serves the shared text/image visual space.
type EncoderConfig struct {
	VisualURL string        `mapstructure:"visualURL"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type GeocodingConfig struct {
	ClientID     string        `mapstructure:"clientID"`
	ClientSecret string        `mapstructure:"clientSecret"`
	GeocodeURL   string        `mapstructure:"geocodeURL"`
	ReverseURL   string        `mapstructure:"reverseURL"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CacheTTL     time.Duration `mapstructure:"cacheTTL"`
}

type WebSearchConfig struct {
	APIKey     string        `mapstructure:"apiKey"`
	URL        string        `mapstructure:"url"`
	MaxResults int           `mapstructure:"maxResults"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type RetrievalConfig struct {
	Weights struct {
		TextSemantic float64 `mapstructure:"textSemantic"`
		TextToImage  float64 `mapstructure:"textToImage"`
		ImageVisual  float64 `mapstructure:"imageVisual"`
		ImageCaption float64 `mapstructure:"imageCaption"`
	} `mapstructure:"weights"`
	OverfetchFactor   int           `mapstructure:"overfetchFactor"`
	MultiMatchBoost   float64       `mapstructure:"multiMatchBoost"`
	PhotoGroupSize    int           `mapstructure:"photoGroupSize"`
	GeneralLimit      int           `mapstructure:"generalLimit"`
	SegmentLimit      int           `mapstructure:"segmentLimit"`
	NearbyLimit       int           `mapstructure:"nearbyLimit"`
	NearbyRadiusKm    float64       `mapstructure:"nearbyRadiusKm"`
	ScrollPageSize    int           `mapstructure:"scrollPageSize"`
	MaxCandidates     int           `mapstructure:"maxCandidates"`
	FanoutConcurrency int           `mapstructure:"fanoutConcurrency"`
	ChannelTimeout    time.Duration `mapstructure:"channelTimeout"`
}

type HistoryConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	MaxStored int           `mapstructure:"maxStored"`
}

func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Secrets come from the environment, e.g. GENAI_APIKEY, GEOCODING_CLIENTID.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	fmt.Println("Successfully loaded app configs...")
	return config, nil
}
