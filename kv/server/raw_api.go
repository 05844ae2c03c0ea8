package server

import (
	"context"

	"github.com/pingcap-incubator/txnkv/kv/transaction/commands"
	"github.com/pingcap-incubator/txnkv/kv/transaction/scheduler"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// The functions below are Server's Raw API. Raw requests see no transactions; conflicts can not happen, so a
// failure is either a region error or the Go error.

func (server *Server) RawGet(ctx context.Context, req *kvrpcpb.RawGetRequest) (*kvrpcpb.RawGetResponse, error) {
	res, err := server.execute(ctx, commands.NewRawGet(req))
	if err != nil {
		return nil, err
	}
	resp := &kvrpcpb.RawGetResponse{RegionError: regionError(res)}
	if res.Kind == scheduler.Success {
		resp.Value = res.Value.(*commands.GetResult).Value
	}
	return resp, nil
}

func (server *Server) RawPut(ctx context.Context, req *kvrpcpb.RawPutRequest) (*kvrpcpb.RawPutResponse, error) {
	res, err := server.execute(ctx, commands.NewRawPut(req))
	if err != nil {
		return nil, err
	}
	return &kvrpcpb.RawPutResponse{RegionError: regionError(res)}, nil
}

func (server *Server) RawDelete(ctx context.Context, req *kvrpcpb.RawDeleteRequest) (*kvrpcpb.RawDeleteResponse, error) {
	res, err := server.execute(ctx, commands.NewRawDelete(req))
	if err != nil {
		return nil, err
	}
	return &kvrpcpb.RawDeleteResponse{RegionError: regionError(res)}, nil
}
