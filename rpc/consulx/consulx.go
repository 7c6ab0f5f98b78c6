// Package consulx is an optional collaborator for rpc.Server: when a
// ConsulClient is attached, the server registers itself on bind and
// deregisters on close, so it can be discovered by the IP/port it's
// listening on. Trimmed from the teacher's infra/consul/consul.go down to
// the registration direction -- rpc.Client never performs discovery
// lookups, it only takes a connect_url or (ip, port) pair (spec.md §4.2).
package consulx

import (
	"github.com/hashicorp/consul/api"

	"github.com/phuhao00/daorpc/config"
)

type ConsulClient struct {
	client *api.Client
}

func (c *ConsulClient) GetReal() *api.Client {
	return c.client
}

func NewConsulClient(cfg config.ConsulConfig) (*ConsulClient, error) {
	apiClientConfig := api.DefaultConfig()
	if cfg.Addr != "" {
		apiClientConfig.Address = cfg.Addr
	}
	client, err := api.NewClient(apiClientConfig)
	if err != nil {
		return nil, err
	}
	return &ConsulClient{client: client}, nil
}

// RegisterService advertises an RPC server under id/name at address:port.
func (c *ConsulClient) RegisterService(id, name, address string, port int) error {
	reg := &api.AgentServiceRegistration{
		ID:      id,
		Name:    name,
		Address: address,
		Port:    port,
	}
	return c.client.Agent().ServiceRegister(reg)
}

// DeregisterService removes a service registration from Consul.
func (c *ConsulClient) DeregisterService(serviceID string) error {
	return c.client.Agent().ServiceDeregister(serviceID)
}
