package cfg

import "testing"

func TestValidate_ValidConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = &Configuration{
		HsId: 1,
		Mailbox: MailboxConfiguration{
			NATSUrls: []string{"nats://127.0.0.1:4222"},
		},
		MeshAide: MeshAideConfiguration{
			EtcdEndpoints: []string{"127.0.0.1:2379"},
		},
		Arbiter: ArbiterConfiguration{
			ReceiveTickMS:  5,
			StallAfterMS:   10_000,
			StallEveryMS:   60_000,
			DedupCacheSize: 4096,
		},
	}

	if err := Validate(); err != nil {
		t.Errorf("expected no error for valid config, got: %v", err)
	}
}

func TestValidate_MissingNATSUrls(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = &Configuration{
		MeshAide: MeshAideConfiguration{EtcdEndpoints: []string{"127.0.0.1:2379"}},
		Arbiter: ArbiterConfiguration{
			ReceiveTickMS: 5, StallAfterMS: 10_000, StallEveryMS: 60_000, DedupCacheSize: 1,
		},
	}

	if err := Validate(); err == nil {
		t.Error("expected error for missing NATS urls, got nil")
	}
}

func TestValidate_MissingEtcdEndpoints(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = &Configuration{
		Mailbox: MailboxConfiguration{NATSUrls: []string{"nats://127.0.0.1:4222"}},
		Arbiter: ArbiterConfiguration{
			ReceiveTickMS: 5, StallAfterMS: 10_000, StallEveryMS: 60_000, DedupCacheSize: 1,
		},
	}

	if err := Validate(); err == nil {
		t.Error("expected error for missing etcd endpoints, got nil")
	}
}

func TestValidate_InvalidArbiterTiming(t *testing.T) {
	tests := []struct {
		name string
		cfg  ArbiterConfiguration
	}{
		{"zero receive tick", ArbiterConfiguration{ReceiveTickMS: 0, StallAfterMS: 1, StallEveryMS: 1, DedupCacheSize: 1}},
		{"zero stall after", ArbiterConfiguration{ReceiveTickMS: 1, StallAfterMS: 0, StallEveryMS: 1, DedupCacheSize: 1}},
		{"zero stall every", ArbiterConfiguration{ReceiveTickMS: 1, StallAfterMS: 1, StallEveryMS: 0, DedupCacheSize: 1}},
		{"zero dedup cache", ArbiterConfiguration{ReceiveTickMS: 1, StallAfterMS: 1, StallEveryMS: 1, DedupCacheSize: 0}},
	}

	original := Config
	defer func() { Config = original }()

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			Config = &Configuration{
				Mailbox:  MailboxConfiguration{NATSUrls: []string{"nats://127.0.0.1:4222"}},
				MeshAide: MeshAideConfiguration{EtcdEndpoints: []string{"127.0.0.1:2379"}},
				Arbiter:  tc.cfg,
			}
			if err := Validate(); err == nil {
				t.Errorf("expected error for %s, got nil", tc.name)
			}
		})
	}
}

func TestAdminAuth(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = &Configuration{Admin: AdminConfiguration{Secret: ""}}
	if IsAdminAuthEnabled() {
		t.Error("expected auth disabled when secret is empty")
	}

	Config = &Configuration{Admin: AdminConfiguration{Secret: "s3cr3t"}}
	if !IsAdminAuthEnabled() {
		t.Error("expected auth enabled when secret is set")
	}
	if GetAdminSecret() != "s3cr3t" {
		t.Errorf("expected secret 's3cr3t', got %q", GetAdminSecret())
	}
}
