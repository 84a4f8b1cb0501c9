package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"
)

type VaultConfig struct {
	Address   string
	Token     string
	TLSConfig *TLSConfig
}

type TLSConfig struct {
	CACert     string
	ClientCert string
	ClientKey  string
	Insecure   bool
}

type HealthStatus struct {
	Connected     bool          `json:"connected"`
	Address       string        `json:"address"`
	Authenticated bool          `json:"authenticated"`
	Sealed        bool          `json:"sealed"`
	Latency       time.Duration `json:"latency"`
	Error         string        `json:"error,omitempty"`
}

// VaultService is the read side of Vault used to overlay configuration secrets.
type VaultService interface {
	HealthCheck(ctx context.Context) HealthStatus
	GetSecret(ctx context.Context, path string) (map[string]interface{}, error)
	GetStrings(ctx context.Context, path string) (map[string]string, error)
	Close() error
}

type VaultClient struct {
	client *api.Client
	config VaultConfig
	mu     sync.RWMutex
}

func NewVaultClient(config VaultConfig) (*VaultClient, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("vault address is required")
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = config.Address

	if config.TLSConfig != nil {
		tlsConfig := &api.TLSConfig{
			CACert:     config.TLSConfig.CACert,
			ClientCert: config.TLSConfig.ClientCert,
			ClientKey:  config.TLSConfig.ClientKey,
			Insecure:   config.TLSConfig.Insecure,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(config.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.Auth().Token().LookupSelfWithContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Vault: %w", err)
	}

	return &VaultClient{
		client: client,
		config: config,
	}, nil
}

func (v *VaultClient) HealthCheck(ctx context.Context) HealthStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()

	start := time.Now()
	status := HealthStatus{
		Address: v.config.Address,
	}

	health, err := v.client.Sys().HealthWithContext(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	status.Connected = true
	status.Sealed = health.Sealed

	if _, err := v.client.Auth().Token().LookupSelfWithContext(ctx); err != nil {
		status.Error = fmt.Sprintf("authentication failed: %v", err)
	} else {
		status.Authenticated = true
	}

	return status
}

// GetSecret reads path and unwraps the KV v2 "data" envelope when present.
func (v *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret at path %s: %w", path, err)
	}

	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", path)
	}

	if data, ok := secret.Data["data"]; ok {
		if dataMap, ok := data.(map[string]interface{}); ok {
			return dataMap, nil
		}
	}

	return secret.Data, nil
}

// GetStrings is GetSecret restricted to non-empty string values.
func (v *VaultClient) GetStrings(ctx context.Context, path string) (map[string]string, error) {
	data, err := v.GetSecret(ctx, path)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(data))
	for key, value := range data {
		if s, ok := value.(string); ok && s != "" {
			out[key] = s
		}
	}
	return out, nil
}

func (v *VaultClient) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.client != nil {
		v.client.ClearToken()
	}

	return nil
}
