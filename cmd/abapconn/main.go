// abapconn is an MCP server managing authenticated SAP ABAP Development
// Tools (ADT) sessions.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fr0ster/mcp-abap-connection/internal/logging"
	"github.com/fr0ster/mcp-abap-connection/internal/mcp"
	"github.com/fr0ster/mcp-abap-connection/pkg/adt"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var cfg = &mcp.Config{}

// CLI-only settings that never reach the engine config
var (
	sessionFile string
	logLevel    string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "abapconn",
	Short: "MCP server for SAP ABAP ADT session management",
	Long: `abapconn is a Model Context Protocol (MCP) server that manages
authenticated sessions against the SAP ABAP Development Tools (ADT) REST API.

It handles the CSRF token lifecycle, session cookies, stateful/stateless
switching and automatic credential recovery, and exposes session management
plus raw ADT access as MCP tools.

Examples:
  # On-premise system with basic authentication
  SAP_URL=https://host:44300 SAP_USER=user SAP_PASSWORD=pass abapconn

  # Using command-line flags
  abapconn --url https://host:44300 --user admin --password secret

  # Cloud system with a bearer token and automatic refresh
  abapconn --url https://api.abap.cloud.example.com --token "$JWT" \
    --refresh-token "$REFRESH" --uaa-url https://uaa.example.com \
    --uaa-client-id sb-abap --uaa-client-secret "$SECRET"

  # Persist the session across restarts
  abapconn --url https://host:44300 --user admin --password secret \
    --session-file ~/.abapconn-session.yaml`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate),
	RunE:    runServer,
}

// stringFlag defines a string CLI flag
type stringFlag struct {
	name, shorthand, defaultValue, description string
}

// boolFlag defines a bool CLI flag
type boolFlag struct {
	name, shorthand, description string
	defaultValue                 bool
}

// intFlag defines an int CLI flag
type intFlag struct {
	name, description string
	defaultValue      int
}

var stringFlags = []stringFlag{
	{"url", "", "", "SAP system URL (e.g., https://host:44300)"},
	{"user", "u", "", "SAP username for basic authentication"},
	{"password", "p", "", "SAP password for basic authentication"},
	{"token", "", "", "Bearer access token for cloud systems"},
	{"refresh-token", "", "", "OAuth2 refresh token for automatic bearer token renewal"},
	{"uaa-url", "", "", "UAA server URL for token refresh"},
	{"uaa-client-id", "", "", "UAA client id for token refresh"},
	{"uaa-client-secret", "", "", "UAA client secret for token refresh"},
	{"client", "", "001", "SAP client number"},
	{"language", "", "EN", "SAP language"},
	{"session-file", "", "", "Path for persisting session state (cookies, CSRF token) across restarts"},
	{"log-level", "", "info", "Log level: debug, info, warn, error"},
}

var boolFlags = []boolFlag{
	{"stateful", "", "Start the session in stateful mode", false},
	{"insecure", "", "Skip TLS certificate verification", false},
	{"verbose", "v", "Enable verbose output to stderr", false},
}

var intFlags = []intFlag{
	{"timeout", "HTTP request timeout in seconds", 60},
}

func init() {
	// Load .env file if it exists (ignore error - file is optional)
	_ = godotenv.Load()

	// Register string flags
	for _, f := range stringFlags {
		if f.shorthand != "" {
			rootCmd.Flags().StringP(f.name, f.shorthand, f.defaultValue, f.description)
		} else {
			rootCmd.Flags().String(f.name, f.defaultValue, f.description)
		}
		_ = viper.BindPFlag(f.name, rootCmd.Flags().Lookup(f.name))
	}

	// Register bool flags
	for _, f := range boolFlags {
		if f.shorthand != "" {
			rootCmd.Flags().BoolP(f.name, f.shorthand, f.defaultValue, f.description)
		} else {
			rootCmd.Flags().Bool(f.name, f.defaultValue, f.description)
		}
		_ = viper.BindPFlag(f.name, rootCmd.Flags().Lookup(f.name))
	}

	// Register int flags
	for _, f := range intFlags {
		rootCmd.Flags().Int(f.name, f.defaultValue, f.description)
		_ = viper.BindPFlag(f.name, rootCmd.Flags().Lookup(f.name))
	}

	// Set up environment variable mapping
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.SetEnvPrefix("SAP")
}

func runServer(cmd *cobra.Command, _ []string) error {
	// Resolve configuration with priority: flags > env vars > defaults
	resolveConfig(cmd)

	// Validate configuration
	if err := validateConfig(); err != nil {
		return err
	}

	logger := logging.New(logLevel, verbose)
	cfg.Logger = logger

	server, err := mcp.NewServer(cfg)
	if err != nil {
		return err
	}

	if sessionFile != "" {
		state, err := loadSessionFile(sessionFile)
		if err != nil {
			return err
		}
		if state != nil {
			server.Client().SetSessionState(state)
			logger.Infof("Session restored from %s", sessionFile)
		}
	}

	logStartupInfo(logger)

	serveErr := server.ServeStdio()

	if sessionFile != "" {
		if state := server.Client().SessionState(); state != nil {
			if err := saveSessionFile(sessionFile, state); err != nil {
				logger.Warnf("Saving session state: %v", err)
			} else {
				logger.Infof("Session saved to %s", sessionFile)
			}
		}
	}
	return serveErr
}

// logStartupInfo outputs startup information at debug level
func logStartupInfo(logger *zap.SugaredLogger) {
	logger.Debugf("Starting abapconn MCP server %s", Version)
	logger.Debugf("SAP URL: %s", cfg.BaseURL)
	logger.Debugf("SAP client: %s, language: %s", cfg.Client, cfg.Language)

	switch {
	case cfg.Username != "":
		logger.Debugf("Auth: basic (user: %s)", cfg.Username)
	case cfg.Token != "":
		if cfg.RefreshToken != "" {
			logger.Debugf("Auth: bearer with refresh")
		} else {
			logger.Debugf("Auth: bearer")
		}
	}

	if cfg.Stateful {
		logger.Debugf("Session mode: stateful")
	}
	if cfg.InsecureSkipVerify {
		logger.Debugf("TLS certificate verification DISABLED")
	}
}

func resolveConfig(cmd *cobra.Command) {
	// URL: flag > SAP_URL > SAP_SERVICE_URL
	cfg.BaseURL = getFirstNonEmpty("URL", "SERVICE_URL")

	if cfg.Username == "" {
		cfg.Username = getFirstNonEmpty("USER", "USERNAME")
	}
	if cfg.Password == "" {
		cfg.Password = getFirstNonEmpty("PASSWORD", "PASS")
	}

	resolveString(cmd, "token", "TOKEN", &cfg.Token)
	resolveString(cmd, "refresh-token", "REFRESH_TOKEN", &cfg.RefreshToken)
	resolveString(cmd, "uaa-url", "UAA_URL", &cfg.UAAURL)
	resolveString(cmd, "uaa-client-id", "UAA_CLIENT_ID", &cfg.UAAClientID)
	resolveString(cmd, "uaa-client-secret", "UAA_CLIENT_SECRET", &cfg.UAAClientSecret)

	resolveString(cmd, "client", "CLIENT", &cfg.Client)
	resolveString(cmd, "language", "LANGUAGE", &cfg.Language)

	resolveBool(cmd, "stateful", "STATEFUL", &cfg.Stateful)
	resolveBool(cmd, "insecure", "INSECURE", &cfg.InsecureSkipVerify)
	resolveBool(cmd, "verbose", "VERBOSE", &verbose)

	resolveString(cmd, "session-file", "SESSION_FILE", &sessionFile)
	resolveString(cmd, "log-level", "LOG_LEVEL", &logLevel)

	var timeoutSecs int
	resolveInt(cmd, "timeout", "TIMEOUT", &timeoutSecs)
	if timeoutSecs > 0 {
		cfg.Timeout = time.Duration(timeoutSecs) * time.Second
	}
}

// Helper functions for config resolution

func getFirstNonEmpty(keys ...string) string {
	for _, key := range keys {
		if v := viper.GetString(key); v != "" {
			return v
		}
	}
	return ""
}

func resolveBool(cmd *cobra.Command, flag, envKey string, target *bool) {
	if !cmd.Flags().Changed(flag) {
		*target = viper.GetBool(envKey)
	} else {
		*target, _ = cmd.Flags().GetBool(flag)
	}
}

func resolveString(cmd *cobra.Command, flag, envKey string, target *string) {
	if !cmd.Flags().Changed(flag) {
		if v := viper.GetString(envKey); v != "" {
			*target = v
		}
	} else {
		*target, _ = cmd.Flags().GetString(flag)
	}
}

func resolveInt(cmd *cobra.Command, flag, envKey string, target *int) {
	if !cmd.Flags().Changed(flag) {
		if v := viper.GetInt(envKey); v != 0 {
			*target = v
		}
	} else {
		*target, _ = cmd.Flags().GetInt(flag)
	}
}

func validateConfig() error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("SAP URL is required. Use --url flag or SAP_URL environment variable")
	}

	hasBasic := cfg.Username != "" && cfg.Password != ""
	hasBearer := cfg.Token != ""

	if hasBasic && hasBearer {
		return fmt.Errorf("only one authentication method can be used at a time (basic auth or bearer token)")
	}
	if !hasBasic && !hasBearer {
		return fmt.Errorf("authentication required. Use --user/--password for basic auth or --token for bearer")
	}

	if cfg.RefreshToken != "" {
		if !hasBearer {
			return fmt.Errorf("--refresh-token requires --token (the initial access token)")
		}
		if cfg.UAAURL == "" {
			return fmt.Errorf("--uaa-url is required when --refresh-token is set")
		}
	}
	return nil
}

// loadSessionFile reads a previously saved session snapshot. A missing or
// empty file is not an error; the server simply starts with a fresh session.
func loadSessionFile(path string) (*adt.SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var state adt.SessionState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing session file %s: %w", path, err)
	}
	if state.Cookies == "" && state.CSRFToken == "" && len(state.CookieMap) == 0 {
		return nil, nil
	}
	return &state, nil
}

// saveSessionFile persists the session snapshot. The file carries session
// cookies, so keep it private to the owner.
func saveSessionFile(path string, state *adt.SessionState) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
