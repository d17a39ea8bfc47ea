package logging

import (
	"testing"

	"porter/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{"console info", config.LoggingConfig{Level: "info"}, false},
		{"json debug", config.LoggingConfig{Level: "debug", JSON: true}, false},
		{"bad level", config.LoggingConfig{Level: "loud"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			log.Debug("probe")
			_ = log.Sync()
		})
	}
}

func TestNamedIsNilSafe(t *testing.T) {
	if Named(nil, "x") == nil {
		t.Error("Named(nil) must return a usable logger")
	}
	log, err := New(config.LoggingConfig{Level: "info"})
	if err != nil {
		t.Fatal(err)
	}
	if Named(log, "sub") == nil {
		t.Error("Named returned nil")
	}
}
