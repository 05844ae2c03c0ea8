package commands

import (
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// Raw commands read and write plain keys of a column family, outside of any transaction.

func rawCF(cf string) (string, error) {
	if cf == "" {
		return engine_util.CfDefault, nil
	}
	if !engine_util.ValidCF(cf) {
		return "", errors.Errorf("commands: unknown column family %q", cf)
	}
	return cf, nil
}

type RawGet struct {
	ReadOnly
	CommandBase
	request *kvrpcpb.RawGetRequest
}

func NewRawGet(request *kvrpcpb.RawGetRequest) *RawGet {
	return &RawGet{
		CommandBase: CommandBase{context: request.Context},
		request:     request,
	}
}

func (rg *RawGet) Kind() string {
	return "raw_get"
}

func (rg *RawGet) Read(txn *mvcc.RoTxn) (interface{}, [][]byte, error) {
	cf, err := rawCF(rg.request.Cf)
	if err != nil {
		return nil, nil, err
	}
	if err := txn.CheckKey(rg.request.Key); err != nil {
		return nil, nil, err
	}
	value, err := txn.Reader.GetCF(cf, rg.request.Key)
	if err != nil {
		return nil, nil, err
	}
	return &GetResult{Value: value, NotFound: value == nil}, nil, nil
}

type RawPut struct {
	CommandBase
	request *kvrpcpb.RawPutRequest
}

func NewRawPut(request *kvrpcpb.RawPutRequest) *RawPut {
	return &RawPut{
		CommandBase: CommandBase{context: request.Context},
		request:     request,
	}
}

func (rp *RawPut) Kind() string {
	return "raw_put"
}

func (rp *RawPut) WillWrite() [][]byte {
	return [][]byte{rp.request.Key}
}

func (rp *RawPut) PrepareWrites(txn *mvcc.MvccTxn) (interface{}, error) {
	cf, err := rawCF(rp.request.Cf)
	if err != nil {
		return nil, err
	}
	if err := txn.CheckKey(rp.request.Key); err != nil {
		return nil, err
	}
	txn.PutRaw(cf, rp.request.Key, rp.request.Value)
	return nil, nil
}

type RawDelete struct {
	CommandBase
	request *kvrpcpb.RawDeleteRequest
}

func NewRawDelete(request *kvrpcpb.RawDeleteRequest) *RawDelete {
	return &RawDelete{
		CommandBase: CommandBase{context: request.Context},
		request:     request,
	}
}

func (rd *RawDelete) Kind() string {
	return "raw_delete"
}

func (rd *RawDelete) WillWrite() [][]byte {
	return [][]byte{rd.request.Key}
}

func (rd *RawDelete) PrepareWrites(txn *mvcc.MvccTxn) (interface{}, error) {
	cf, err := rawCF(rd.request.Cf)
	if err != nil {
		return nil, err
	}
	if err := txn.CheckKey(rd.request.Key); err != nil {
		return nil, err
	}
	txn.DeleteRaw(cf, rd.request.Key)
	return nil, nil
}
