package commands

import (
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
)

// Scan reads up to Limit keys from StartKey at a version. Locked keys are reported in place as pairs carrying an
// error and count towards the limit. The scan never leaves the region.
type Scan struct {
	ReadOnly
	CommandBase
	request *kvrpcpb.ScanRequest
}

func NewScan(request *kvrpcpb.ScanRequest) *Scan {
	return &Scan{
		CommandBase: CommandBase{
			context: request.Context,
			startTs: request.Version,
		},
		request: request,
	}
}

func (s *Scan) Kind() string {
	return "scan"
}

func (s *Scan) Read(txn *mvcc.RoTxn) (interface{}, [][]byte, error) {
	startKey := s.request.GetStartKey()
	if len(startKey) > 0 {
		if err := txn.CheckKey(startKey); err != nil {
			return nil, nil, err
		}
	}
	scanner := mvcc.NewScanner(startKey, nil, txn)
	defer scanner.Close()

	pairs := []KvPair{}
	for limit := s.request.GetLimit(); limit > 0; limit-- {
		key, value, err := scanner.Next()
		if err != nil {
			// Key error (e.g., key is locked) is saved as an error in the scan for the client to handle.
			if locked, ok := err.(*mvcc.ErrKeyIsLocked); ok {
				pairs = append(pairs, KvPair{Key: locked.Key, Err: locked})
				continue
			}
			// Any other kind of error, we can't handle so quit the scan.
			return nil, nil, err
		}
		if key == nil {
			// Reached the end of the region.
			break
		}
		pairs = append(pairs, KvPair{Key: key, Value: value})
	}
	return pairs, nil, nil
}
