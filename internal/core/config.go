package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of
// gumshoe's components.
type Config struct {
	// Hostname or IP address on which the server will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Port on which the session server will listen.
	Port int `mapstructure:"port"`
	// Maximum number of concurrent connections the server will allow.
	MaxConnections int `mapstructure:"max_connections"`
	// Largest frame (in bytes) the server will accept before closing the
	// offending connection.
	MaxFrameSize int `mapstructure:"max_frame_size"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"logging"`

	Scenario struct {
		// Full (or relative to the current directory) path to the directory
		// containing the case files.
		Directory string `mapstructure:"directory"`
		// How long a loaded case file stays cached before it is re-read.
		CacheExpiry time.Duration `mapstructure:"cache_expiry"`
	} `mapstructure:"scenario"`

	Database struct {
		// Database engine to use; either "sqlite" or "postgres".
		Engine string `mapstructure:"engine"`
		// Path to the sqlite database file (sqlite engine only).
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on db_host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres for gumshoe.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to ${db_name}.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
		// How often active sessions are checkpointed to the database.
		CheckpointInterval time.Duration `mapstructure:"checkpoint_interval"`
	} `mapstructure:"database"`

	Client struct {
		// Address of the server the client connects to.
		ServerAddress string `mapstructure:"server_address"`
		// Number of connection attempts before giving up.
		ConnectRetries int `mapstructure:"connect_retries"`
		// Delay between connection attempts.
		ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
	} `mapstructure:"client"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		PprofEnabled bool `mapstructure:"pprof_enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Dump decoded frames to the log.
		FrameLoggingEnabled bool `mapstructure:"frame_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "GUMSHOE"

// LoadConfig initializes Viper with the contents of the config file under configPath.
func LoadConfig(configPath string) *Config {
	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("error reading config file: %v\n", err)
		os.Exit(1)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			fmt.Printf("error binding %s to %s\n", k, envVarPrefix+"_"+envVar)
			os.Exit(1)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		fmt.Printf("error unmarshaling config object: %v\n", err)
		os.Exit(1)
	}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.MaxConnections == 0 {
		c.MaxConnections = 1000
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = 80 * 1024
	}
	if c.Scenario.CacheExpiry == 0 {
		c.Scenario.CacheExpiry = 5 * time.Minute
	}
	if c.Database.CheckpointInterval == 0 {
		c.Database.CheckpointInterval = time.Minute
	}
	if c.Client.ConnectRetries == 0 {
		c.Client.ConnectRetries = 5
	}
	if c.Client.ConnectRetryDelay == 0 {
		c.Client.ConnectRetryDelay = 2 * time.Second
	}
}

// ListenAddress returns the fully qualified address the session server binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}
