// Package config provides XML-based configuration management for the scene builder.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"FactoryTwin"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Mesh generation collaborator
	Generation GenerationConfig `xml:"Generation"`

	// Scene assembly tuning
	Scene SceneConfig `xml:"Scene"`

	// Optional object-store publishing
	Publish PublishConfig `xml:"Publish"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	AssetPort    int    `xml:"AssetPort"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory   string `xml:"DataDirectory"`
	CacheDirectory  string `xml:"CacheDirectory"`
	ImagesDirectory string `xml:"ImagesDirectory"`
	CatalogPath     string `xml:"CatalogPath"`
}

// GenerationConfig describes how meshes are requested from the generation service.
type GenerationConfig struct {
	APIURL             string `xml:"APIURL"`
	TimeoutSeconds     int    `xml:"TimeoutSeconds"`
	MaxAttempts        int    `xml:"MaxAttempts"`
	BackoffStepSeconds int    `xml:"BackoffStepSeconds"`
	MaxWorkers         int    `xml:"MaxWorkers"`
	EntityTimeoutSecs  int    `xml:"EntityTimeoutSeconds"`
}

// SceneConfig holds assembly and connector parameters.
type SceneConfig struct {
	TargetMachineSize float64 `xml:"TargetMachineSize"`
	PlaceholderHeight float64 `xml:"PlaceholderHeight"`
	JointMinDegrees   float64 `xml:"JointMinDegrees"`
	JointMaxDegrees   float64 `xml:"JointMaxDegrees"`
	MinSegmentLength  float64 `xml:"MinSegmentLength"`
	PlacementWorkers  int     `xml:"PlacementWorkers"`
}

// PublishConfig configures upload of finished scenes to an S3-compatible bucket.
// Publishing is disabled when Bucket is empty.
type PublishConfig struct {
	Bucket       string `xml:"Bucket"`
	Region       string `xml:"Region"`
	Endpoint     string `xml:"Endpoint"`
	UsePathStyle bool   `xml:"UsePathStyle"`
	Prefix       string `xml:"Prefix"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	LogFormat            string `xml:"LogFormat"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	DuckDBThreads        int    `xml:"DuckDBThreads"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			AssetPort:    8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "64M",
		},
		Storage: StorageConfig{
			DataDirectory:   "./data",
			CacheDirectory:  "./data/cache",
			ImagesDirectory: "./data/images",
			CatalogPath:     "./data/catalog.duckdb",
		},
		Generation: GenerationConfig{
			APIURL:             "http://localhost:8000/generate",
			TimeoutSeconds:     1200,
			MaxAttempts:        5,
			BackoffStepSeconds: 5,
			MaxWorkers:         4,
			EntityTimeoutSecs:  1800,
		},
		Scene: SceneConfig{
			TargetMachineSize: 3000,
			PlaceholderHeight: 1000,
			JointMinDegrees:   80,
			JointMaxDegrees:   100,
			MinSegmentLength:  1,
			PlacementWorkers:  4,
		},
		Publish: PublishConfig{
			Region: "us-east-1",
			Prefix: "scenes",
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			LogFormat:            "text",
			EnableRequestLogging: true,
			DuckDBThreads:        2,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Factory Twin Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.CacheDirectory = filepath.Join(dataDir, "cache")
		c.Storage.ImagesDirectory = filepath.Join(dataDir, "images")
		c.Storage.CatalogPath = filepath.Join(dataDir, "catalog.duckdb")
	}

	if apiURL := os.Getenv("API_URL"); apiURL != "" {
		c.Generation.APIURL = apiURL
	}

	if timeout := os.Getenv("API_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil && t > 0 {
			c.Generation.TimeoutSeconds = t
		}
	}

	if workers := os.Getenv("MAX_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil && w > 0 {
			c.Generation.MaxWorkers = w
		}
	}

	if size := os.Getenv("TARGET_MACHINE_SIZE"); size != "" {
		if s, err := strconv.ParseFloat(size, 64); err == nil && s > 0 {
			c.Scene.TargetMachineSize = s
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.CacheDirectory,
		&c.Storage.ImagesDirectory,
		&c.Storage.CatalogPath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetServerAddr returns the API server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// GetAssetAddr returns the asset server bind address
func (c *AppConfig) GetAssetAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.AssetPort)
}

// GenerationTimeout is the transport timeout for a single generation request.
func (c *AppConfig) GenerationTimeout() time.Duration {
	return time.Duration(c.Generation.TimeoutSeconds) * time.Second
}

// EntityTimeout is the hard per-entity resolution deadline.
func (c *AppConfig) EntityTimeout() time.Duration {
	return time.Duration(c.Generation.EntityTimeoutSecs) * time.Second
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.CacheDirectory,
		c.Storage.ImagesDirectory,
		filepath.Dir(c.Storage.CatalogPath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
