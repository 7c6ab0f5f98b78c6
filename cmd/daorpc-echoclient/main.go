// Command daorpc-echoclient calls the "echo" method exposed by
// daorpc-echoserver and prints the reply, or the decoded rpcerr.Error on
// failure.
package main

import (
	"flag"
	"log"

	"github.com/phuhao00/daorpc/config"
	"github.com/phuhao00/daorpc/rpc"
	_ "github.com/phuhao00/daorpc/rpc/brokered"
	_ "github.com/phuhao00/daorpc/rpc/direct"
	"github.com/phuhao00/daorpc/rpcerr"
)

func main() {
	port := flag.String("port", "5555", "port the echo server is bound to")
	message := flag.String("message", "hello", "message to echo")
	flag.Parse()

	cfg := config.Get()

	client, err := rpc.NewClient(cfg.RPC.Driver, rpc.ClientOptions{
		IP:         cfg.RPC.IP,
		Port:       *port,
		Timeout:    cfg.RPC.RcvTimeout,
		URLPattern: cfg.RPC.URLPattern,
	})
	if err != nil {
		log.Fatalf("daorpc-echoclient: failed to build client: %v", err)
	}
	defer client.Close()

	reply, err := client.Call("echo", []any{*message}, nil)
	if err != nil {
		if rpcErr, ok := err.(*rpcerr.Error); ok {
			log.Fatalf("daorpc-echoclient: server returned %s: %s", rpcErr.Kind, rpcErr.Message)
		}
		log.Fatalf("daorpc-echoclient: call failed: %v", err)
	}

	log.Printf("daorpc-echoclient: reply: %+v", reply)
}
