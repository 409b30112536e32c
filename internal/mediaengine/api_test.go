package mediaengine

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestApplyNetworkSettings(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "defaults", cfg: Config{}},
		{name: "port range", cfg: Config{UDPPortMin: 40000, UDPPortMax: 40100}},
		{name: "single port", cfg: Config{UDPPortMin: 40000, UDPPortMax: 40000}},
		{name: "nat 1:1", cfg: Config{NAT1To1IPs: []string{"203.0.113.7"}}},
		{name: "max only", cfg: Config{UDPPortMax: 40000}, wantErr: true},
		{name: "inverted", cfg: Config{UDPPortMin: 40100, UDPPortMax: 40000}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var se webrtc.SettingEngine
			err := ApplyNetworkSettings(&se, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestNewAPI_RunsConfigureHook(t *testing.T) {
	called := false
	if _, err := NewAPI(Config{Configure: func(*webrtc.SettingEngine) { called = true }}); err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	if !called {
		t.Fatalf("Configure hook not called")
	}
}
