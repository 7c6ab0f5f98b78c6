package direct

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/phuhao00/daorpc/rpcerr"
)

// wireReply is the tagged envelope placed on the wire so a plain return
// value and an error envelope can be told apart on decode (spec.md §3:
// "an implementer MAY encode the envelope as a tagged variant carrying the
// error kind name").
type wireReply struct {
	IsError bool          `msgpack:"is_error"`
	Value   any           `msgpack:"value,omitempty"`
	Err     *rpcerr.Error `msgpack:"err,omitempty"`
}

func encodeReply(value any) ([]byte, error) {
	var w wireReply
	if e, ok := value.(*rpcerr.Error); ok {
		w = wireReply{IsError: true, Err: e}
	} else {
		w = wireReply{Value: value}
	}
	return msgpack.Marshal(w)
}

func decodeReply(data []byte) (any, error) {
	var w wireReply
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, rpcerr.New(rpcerr.Generic, "failed to decode reply: %v", err)
	}
	if w.IsError {
		return nil, w.Err
	}
	return w.Value, nil
}
