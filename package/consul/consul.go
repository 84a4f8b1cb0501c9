package consul

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
)

type ConsulConfig struct {
	Address    string
	Token      string
	Datacenter string
	TLSConfig  *TLSConfig
}

type TLSConfig struct {
	CACert     string
	ClientCert string
	ClientKey  string
	Insecure   bool
}

type HealthStatus struct {
	Connected bool          `json:"connected"`
	Address   string        `json:"address"`
	Leader    string        `json:"leader,omitempty"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

type ServiceInstance struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Address string            `json:"address"`
	Port    int               `json:"port"`
	Tags    []string          `json:"tags"`
	Meta    map[string]string `json:"meta,omitempty"`
	Health  string            `json:"health"`
}

// HostPort joins the instance address and port.
func (s ServiceInstance) HostPort() string {
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

type ConsulService interface {
	HealthCheck(ctx context.Context) HealthStatus
	GetService(ctx context.Context, service string) ([]ServiceInstance, error)
	ResolveURL(ctx context.Context, service, scheme string) (string, error)
	Close() error
}

type ConsulClient struct {
	client *api.Client
	config ConsulConfig
	mu     sync.RWMutex
}

func NewConsulClient(config ConsulConfig) (*ConsulClient, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("consul address is required")
	}

	consulConfig := api.DefaultConfig()
	consulConfig.Address = config.Address
	consulConfig.Token = config.Token

	if config.Datacenter != "" {
		consulConfig.Datacenter = config.Datacenter
	}

	if config.TLSConfig != nil {
		consulConfig.TLSConfig = api.TLSConfig{
			CAFile:             config.TLSConfig.CACert,
			CertFile:           config.TLSConfig.ClientCert,
			KeyFile:            config.TLSConfig.ClientKey,
			InsecureSkipVerify: config.TLSConfig.Insecure,
		}
	}

	client, err := api.NewClient(consulConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}

	if _, err := client.Agent().Self(); err != nil {
		return nil, fmt.Errorf("failed to connect to Consul: %w", err)
	}

	return &ConsulClient{
		client: client,
		config: config,
	}, nil
}

func (c *ConsulClient) HealthCheck(ctx context.Context) HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := time.Now()
	status := HealthStatus{
		Address: c.config.Address,
	}

	if _, err := c.client.Agent().Self(); err != nil {
		status.Error = err.Error()
		status.Latency = time.Since(start)
		return status
	}

	status.Connected = true
	status.Latency = time.Since(start)

	if leader, err := c.client.Status().LeaderWithQueryOptions((&api.QueryOptions{}).WithContext(ctx)); err == nil {
		status.Leader = leader
	}

	return status
}

// GetService returns the passing instances of service.
func (c *ConsulClient) GetService(ctx context.Context, service string) ([]ServiceInstance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries, _, err := c.client.Health().Service(service, "", true, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get service %s: %w", service, err)
	}

	instances := make([]ServiceInstance, 0, len(entries))
	for _, entry := range entries {
		if entry.Service == nil {
			continue
		}

		address := entry.Service.Address
		if address == "" && entry.Node != nil {
			address = entry.Node.Address
		}

		instances = append(instances, ServiceInstance{
			ID:      entry.Service.ID,
			Name:    entry.Service.Service,
			Address: address,
			Port:    entry.Service.Port,
			Tags:    entry.Service.Tags,
			Meta:    entry.Service.Meta,
			Health:  entry.Checks.AggregatedStatus(),
		})
	}

	return instances, nil
}

// ResolveURL returns scheme://host:port for the first passing instance of service.
func (c *ConsulClient) ResolveURL(ctx context.Context, service, scheme string) (string, error) {
	instances, err := c.GetService(ctx, service)
	if err != nil {
		return "", err
	}

	if len(instances) == 0 {
		return "", fmt.Errorf("no healthy instances of service %s", service)
	}

	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + instances[0].HostPort(), nil
}

func (c *ConsulClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.client = nil

	return nil
}
