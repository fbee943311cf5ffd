package config

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory store needs no db", Config{StoreDriver: StoreDriverMemory, NotifyMaxAttempts: 5, NotifyWorkers: 1}, false},
		{"mysql without host", Config{StoreDriver: StoreDriverMySQL, DBUser: "u", DBName: "n", NotifyMaxAttempts: 5}, true},
		{"mysql complete", Config{StoreDriver: StoreDriverMySQL, DBUser: "u", DBHost: "h", DBName: "n", NotifyMaxAttempts: 5}, false},
		{"unknown driver", Config{StoreDriver: "sqlite", NotifyMaxAttempts: 5}, true},
		{"card without webhook secret", Config{StoreDriver: StoreDriverMemory, PaymentAPIURL: "https://pay", HandoffSecret: "h", NotifyMaxAttempts: 5}, true},
		{"card without handoff secret", Config{StoreDriver: StoreDriverMemory, PaymentAPIURL: "https://pay", PaymentWebhookSecret: "s", NotifyMaxAttempts: 5}, true},
		{"zero attempts", Config{StoreDriver: StoreDriverMemory}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDefaultsWorkers(t *testing.T) {
	cfg := Config{StoreDriver: StoreDriverMemory, NotifyMaxAttempts: 5}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.NotifyWorkers != 1 {
		t.Fatalf("workers=%d want 1", cfg.NotifyWorkers)
	}
}
