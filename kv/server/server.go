package server

import (
	"context"

	"github.com/pingcap-incubator/txnkv/kv/transaction/commands"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap-incubator/txnkv/kv/transaction/scheduler"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/errorpb"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// Server is the node's request boundary. It turns kvrpcpb requests into commands for the scheduler and the results
// back into responses. Staleness errors become region errors, conflicts become key errors, and anything fatal is
// returned as the Go error.
type Server struct {
	sched *scheduler.Scheduler
}

func NewServer(sched *scheduler.Scheduler) *Server {
	return &Server{sched: sched}
}

func (server *Server) Scheduler() *scheduler.Scheduler {
	return server.sched
}

// execute runs cmd. A nil result comes with the context error or a fatal error.
func (server *Server) execute(ctx context.Context, cmd commands.Command) (*scheduler.Result, error) {
	res, err := server.sched.Execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if res.Kind == scheduler.Fatal {
		return nil, res.Err
	}
	return res, nil
}

func regionError(res *scheduler.Result) *errorpb.Error {
	if res.Kind == scheduler.Retryable {
		return RegionErrToPbError(res.Err)
	}
	return nil
}

func keyError(res *scheduler.Result) *kvrpcpb.KeyError {
	if res.Kind == scheduler.Conflict {
		return KeyErrToPb(res.Err)
	}
	return nil
}

// The below functions are Server's transactional API.

func (server *Server) KvGet(ctx context.Context, req *kvrpcpb.GetRequest) (*kvrpcpb.GetResponse, error) {
	res, err := server.execute(ctx, commands.NewGet(req))
	if err != nil {
		return nil, err
	}
	resp := &kvrpcpb.GetResponse{RegionError: regionError(res), Error: keyError(res)}
	if res.Kind == scheduler.Success {
		resp.Value = res.Value.(*commands.GetResult).Value
	}
	return resp, nil
}

func (server *Server) KvScan(ctx context.Context, req *kvrpcpb.ScanRequest) (*kvrpcpb.ScanResponse, error) {
	res, err := server.execute(ctx, commands.NewScan(req))
	if err != nil {
		return nil, err
	}
	resp := &kvrpcpb.ScanResponse{RegionError: regionError(res)}
	if res.Kind == scheduler.Success {
		for _, pair := range res.Value.([]commands.KvPair) {
			if pair.Err != nil {
				resp.Pairs = append(resp.Pairs, &kvrpcpb.KvPair{Error: KeyErrToPb(pair.Err)})
				continue
			}
			resp.Pairs = append(resp.Pairs, &kvrpcpb.KvPair{Key: pair.Key, Value: pair.Value})
		}
	}
	return resp, nil
}

func (server *Server) KvPrewrite(ctx context.Context, req *kvrpcpb.PrewriteRequest) (*kvrpcpb.PrewriteResponse, error) {
	res, err := server.execute(ctx, commands.NewPrewrite(req))
	if err != nil {
		return nil, err
	}
	resp := &kvrpcpb.PrewriteResponse{RegionError: regionError(res)}
	if res.Kind == scheduler.Conflict {
		resp.Errors = keyErrsToPb(res.Err)
	}
	return resp, nil
}

func (server *Server) KvCommit(ctx context.Context, req *kvrpcpb.CommitRequest) (*kvrpcpb.CommitResponse, error) {
	res, err := server.execute(ctx, commands.NewCommit(req))
	if err != nil {
		return nil, err
	}
	return &kvrpcpb.CommitResponse{RegionError: regionError(res), Error: keyError(res)}, nil
}

func (server *Server) KvBatchRollback(ctx context.Context, req *kvrpcpb.BatchRollbackRequest) (*kvrpcpb.BatchRollbackResponse, error) {
	res, err := server.execute(ctx, commands.NewRollback(req))
	if err != nil {
		return nil, err
	}
	return &kvrpcpb.BatchRollbackResponse{RegionError: regionError(res), Error: keyError(res)}, nil
}

func (server *Server) KvCleanup(ctx context.Context, req *kvrpcpb.CleanupRequest) (*kvrpcpb.CleanupResponse, error) {
	return server.cleanup(ctx, commands.NewCleanup(req))
}

// KvCleanupWithCurrentTs is KvCleanup for a caller that only wants locks whose ttl ran out at currentTs removed.
// A live lock comes back as a Locked key error.
func (server *Server) KvCleanupWithCurrentTs(ctx context.Context, req *kvrpcpb.CleanupRequest, currentTs uint64) (*kvrpcpb.CleanupResponse, error) {
	return server.cleanup(ctx, commands.NewCleanupWithCurrentTs(req, currentTs))
}

func (server *Server) cleanup(ctx context.Context, cmd *commands.Cleanup) (*kvrpcpb.CleanupResponse, error) {
	res, err := server.execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	resp := &kvrpcpb.CleanupResponse{RegionError: regionError(res)}
	if committed, ok := errors.Cause(res.Err).(*mvcc.ErrAlreadyCommitted); ok {
		// Not an error for the caller, the transaction is decided.
		resp.CommitVersion = committed.CommitTs
		return resp, nil
	}
	resp.Error = keyError(res)
	return resp, nil
}

func (server *Server) KvResolveLock(ctx context.Context, req *kvrpcpb.ResolveLockRequest) (*kvrpcpb.ResolveLockResponse, error) {
	res, err := server.execute(ctx, commands.NewResolveLock(req))
	if err != nil {
		return nil, err
	}
	return &kvrpcpb.ResolveLockResponse{RegionError: regionError(res), Error: keyError(res)}, nil
}
