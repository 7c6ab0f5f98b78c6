package brokered

import (
	"gopkg.in/yaml.v3"

	"github.com/phuhao00/daorpc/rpc"
	"github.com/phuhao00/daorpc/rpcerr"
)

func encodeRequest(req rpc.Request) ([]byte, error) {
	return yaml.Marshal(req)
}

func decodeRequestBody(data []byte) (rpc.Request, error) {
	var req rpc.Request
	err := yaml.Unmarshal(data, &req)
	return req, err
}

// wireReply mirrors rpc/direct's tagged envelope, but YAML-encoded per
// spec.md §3/§6 ("BROKERED uses a human-readable structured text encoding
// (YAML-family)").
type wireReply struct {
	IsError bool          `yaml:"is_error"`
	Value   any           `yaml:"value,omitempty"`
	Err     *rpcerr.Error `yaml:"err,omitempty"`
}

func encodeReply(value any) ([]byte, error) {
	var w wireReply
	if e, ok := value.(*rpcerr.Error); ok {
		w = wireReply{IsError: true, Err: e}
	} else {
		w = wireReply{Value: value}
	}
	return yaml.Marshal(w)
}

func decodeReply(data []byte) (any, error) {
	var w wireReply
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "failed to decode reply: %v", err)
	}
	if w.IsError {
		return nil, w.Err
	}
	return w.Value, nil
}
