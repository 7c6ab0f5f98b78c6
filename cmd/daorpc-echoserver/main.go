// Command daorpc-echoserver is a minimal server exercising the rpc package:
// it registers a single "echo" method and serves requests on whichever
// backend is selected by config.Get().RPC.Driver.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuhao00/daorpc/config"
	"github.com/phuhao00/daorpc/rpc"
	_ "github.com/phuhao00/daorpc/rpc/brokered"
	"github.com/phuhao00/daorpc/rpc/consulx"
	_ "github.com/phuhao00/daorpc/rpc/direct"
)

func main() {
	port := flag.String("port", "5555", "port to bind the RPC server on")
	flag.Parse()

	cfg := config.Get()

	server, err := rpc.NewServer(cfg.RPC.Driver, cfg.RPC.IP, *port, cfg.RPC.URLPattern)
	if err != nil {
		log.Fatalf("daorpc-echoserver: failed to start server: %v", err)
	}

	if cfg.Consul.ServiceName != "" {
		consulClient, err := consulx.NewConsulClient(cfg.Consul)
		if err != nil {
			log.Fatalf("daorpc-echoserver: failed to build consul client: %v", err)
		}
		server, err = rpc.WithConsulRegistration(server, consulClient, cfg.Consul.ServiceName, cfg.RPC.IP, mustAtoi(*port))
		if err != nil {
			log.Fatalf("daorpc-echoserver: %v", err)
		}
	}

	dispatcher := rpc.NewDispatcher(server)
	dispatcher.Register("echo", func(args []any, kwargs map[string]any) (any, error) {
		return map[string]any{"args": args, "kwargs": kwargs}, nil
	})

	go func() {
		if err := dispatcher.Serve(); err != nil {
			log.Printf("daorpc-echoserver: serve loop exited: %v", err)
		}
	}()

	log.Printf("daorpc-echoserver: listening on %s (driver=%s)", server.URL(), cfg.RPC.Driver)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("daorpc-echoserver: shutting down")
	dispatcher.Stop()
	if err := server.Close(); err != nil {
		log.Printf("daorpc-echoserver: close error: %v", err)
	}
}

func mustAtoi(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
