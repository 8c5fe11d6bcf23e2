package adt

import (
	"errors"
	"testing"
	"time"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig("https://sap.example.com:44300", WithBasicAuth("user", "pass"))

	if cfg.Client != "001" {
		t.Errorf("Client = %q, want 001", cfg.Client)
	}
	if cfg.Language != "EN" {
		t.Errorf("Language = %q, want EN", cfg.Language)
	}
	if cfg.AuthKind != AuthBasic {
		t.Errorf("AuthKind = %q, want basic", cfg.AuthKind)
	}
	if cfg.SessionType != SessionStateless {
		t.Errorf("SessionType = %q, want stateless", cfg.SessionType)
	}
	if cfg.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want 60s", cfg.Timeout)
	}
	if cfg.DiscoveryPath != defaultDiscoveryPath {
		t.Errorf("DiscoveryPath = %q, want %q", cfg.DiscoveryPath, defaultDiscoveryPath)
	}
	if cfg.SessionID == "" {
		t.Error("SessionID not generated")
	}
	if len(cfg.PermissionMarkers) == 0 {
		t.Error("PermissionMarkers not defaulted")
	}
	if cfg.Logger == nil {
		t.Error("Logger not defaulted")
	}
}

func TestNewConfig_Options(t *testing.T) {
	cfg := NewConfig("https://sap.example.com:44300",
		WithBasicAuth("developer", "secret"),
		WithClient("100"),
		WithLanguage("DE"),
		WithSessionID("fixed-id"),
		WithStateful(),
		WithDiscoveryPath("/custom/discovery"),
		WithPermissionMarkers("keine berechtigung"),
		WithTimeout(5*time.Second),
		WithInsecureSkipVerify(),
	)

	if cfg.Username != "developer" || cfg.Password != "secret" {
		t.Errorf("credentials not applied: %q/%q", cfg.Username, cfg.Password)
	}
	if cfg.Client != "100" {
		t.Errorf("Client = %q, want 100", cfg.Client)
	}
	if cfg.Language != "DE" {
		t.Errorf("Language = %q, want DE", cfg.Language)
	}
	if cfg.SessionID != "fixed-id" {
		t.Errorf("SessionID = %q, want fixed-id", cfg.SessionID)
	}
	if cfg.SessionType != SessionStateful {
		t.Errorf("SessionType = %q, want stateful", cfg.SessionType)
	}
	if cfg.DiscoveryPath != "/custom/discovery" {
		t.Errorf("DiscoveryPath = %q", cfg.DiscoveryPath)
	}
	if len(cfg.PermissionMarkers) != 1 || cfg.PermissionMarkers[0] != "keine berechtigung" {
		t.Errorf("PermissionMarkers = %v", cfg.PermissionMarkers)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if !cfg.InsecureSkipVerify {
		t.Error("InsecureSkipVerify not applied")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "valid basic",
			cfg:     NewConfig("https://sap.example.com:44300", WithBasicAuth("user", "pass")),
			wantErr: false,
		},
		{
			name:    "valid bearer",
			cfg:     NewConfig("https://sap.example.com", WithBearerToken("jwt")),
			wantErr: false,
		},
		{
			name:    "invalid URL",
			cfg:     NewConfig("://bad", WithBasicAuth("user", "pass")),
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			cfg:     NewConfig("ftp://sap.example.com", WithBasicAuth("user", "pass")),
			wantErr: true,
		},
		{
			name:    "basic without password",
			cfg:     NewConfig("https://sap.example.com", WithBasicAuth("user", "")),
			wantErr: true,
		},
		{
			name:    "basic without client",
			cfg:     NewConfig("https://sap.example.com", WithBasicAuth("user", "pass"), WithClient("")),
			wantErr: true,
		},
		{
			name:    "bearer without token",
			cfg:     NewConfig("https://sap.example.com", WithBearerToken("")),
			wantErr: true,
		},
		{
			name:    "bearer with refresher only",
			cfg:     NewConfig("https://sap.example.com", WithRefresher(&stubRefresher{token: "t"})),
			wantErr: false,
		},
		{
			name:    "zero timeout",
			cfg:     NewConfig("https://sap.example.com", WithBasicAuth("user", "pass"), WithTimeout(0)),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var cfgErr *ConfigError
				if !errors.As(err, &cfgErr) {
					t.Errorf("Validate() error type = %T, want *ConfigError", err)
				}
			}
		})
	}
}

func TestConfig_CanRefresh(t *testing.T) {
	basic := NewConfig("https://sap.example.com", WithBasicAuth("user", "pass"))
	if basic.canRefresh() {
		t.Error("basic config reports canRefresh")
	}

	bearerFixed := NewConfig("https://sap.example.com", WithBearerToken("jwt"))
	if bearerFixed.canRefresh() {
		t.Error("fixed-token bearer config reports canRefresh")
	}

	bearerUAA := NewConfig("https://sap.example.com",
		WithBearerToken("jwt"),
		WithRefreshCredentials("rt", "https://uaa.example.com", "cid", "secret"),
	)
	if !bearerUAA.canRefresh() {
		t.Error("bearer config with UAA credentials reports !canRefresh")
	}

	bearerBroker := NewConfig("https://sap.example.com", WithRefresher(&stubRefresher{token: "t"}))
	if !bearerBroker.canRefresh() {
		t.Error("bearer config with Refresher reports !canRefresh")
	}
}

func TestMatchesPermissionMarkers(t *testing.T) {
	markers := DefaultPermissionMarkers

	tests := []struct {
		body string
		want bool
	}{
		{"User DEVELOPER has no authorization for resource", true},
		{"NO ACCESS to /sap/bc/adt/foo", true},
		{"Missing Authorization check failed", true},
		{"CSRF token validation failed", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := matchesPermissionMarkers(tt.body, markers); got != tt.want {
			t.Errorf("matchesPermissionMarkers(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}

	custom := []string{"keine berechtigung"}
	if !matchesPermissionMarkers("Keine Berechtigung zum Zugriff", custom) {
		t.Error("custom marker not matched case-insensitively")
	}
	if matchesPermissionMarkers("no authorization", custom) {
		t.Error("default marker matched although overridden")
	}
}
