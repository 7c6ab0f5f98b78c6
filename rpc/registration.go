package rpc

import (
	"fmt"
	"log"

	"github.com/phuhao00/daorpc/rpc/consulx"
)

// registeredServer wraps a Server with Consul registration on construction
// and deregistration on Close (SPEC_FULL.md §5.7). It is optional and
// additive: nothing in the core Client/Server contract requires it.
type registeredServer struct {
	Server
	consul    *consulx.ConsulClient
	serviceID string
}

// WithConsulRegistration registers srv's bound URL under serviceName with
// Consul, returning a Server whose Close also deregisters it. If client is
// nil, srv is returned unwrapped.
func WithConsulRegistration(srv Server, client *consulx.ConsulClient, serviceName, host string, port int) (Server, error) {
	if client == nil {
		return srv, nil
	}
	id := fmt.Sprintf("%s-%s-%d", serviceName, host, port)
	if err := client.RegisterService(id, serviceName, host, port); err != nil {
		return nil, fmt.Errorf("rpc: consul registration failed: %w", err)
	}
	log.Printf("rpc: registered %s (%s) with consul as %s", srv.URL(), serviceName, id)
	return &registeredServer{Server: srv, consul: client, serviceID: id}, nil
}

func (r *registeredServer) Close() error {
	if err := r.consul.DeregisterService(r.serviceID); err != nil {
		log.Printf("rpc: consul deregistration failed for %s: %v", r.serviceID, err)
	}
	return r.Server.Close()
}
