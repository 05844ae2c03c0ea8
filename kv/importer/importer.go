package importer

import (
	"hash/crc32"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/ratelimit"
	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/region"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/storage/region_storage"
	"github.com/pingcap-incubator/txnkv/kv/util"
	"github.com/pingcap-incubator/txnkv/kv/util/worker"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/import_sstpb"
	"github.com/pingcap/kvproto/pkg/kvrpcpb"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Importer receives bulk load files and ingests them into a region. A file is bound to the region and epoch in its
// SSTMeta: it can only be ingested while that epoch is current, and it is removed once the region splits or merges.
type Importer struct {
	dir     string
	storage *region_storage.RegionStorage
	router  *region.Router
	limiter *ratelimit.Bucket

	// Serializes ingest and cleanup of the same files.
	mu sync.Mutex

	wg      sync.WaitGroup
	cleaner *worker.Worker
	stopped atomic.Bool

	metrics *metrics
}

type cleanupTask struct {
	event region.Event
}

type cleanupHandler struct {
	imp *Importer
}

func (h *cleanupHandler) Handle(t worker.Task) {
	h.imp.cleanup(t.(*cleanupTask).event)
}

func NewImporter(cfg *config.Import, rs *region_storage.RegionStorage) (*Importer, error) {
	if err := os.MkdirAll(cfg.ImportDir, 0755); err != nil {
		return nil, errors.WithStack(err)
	}
	imp := &Importer{
		dir:     cfg.ImportDir,
		storage: rs,
		router:  rs.Router(),
		metrics: newMetrics(),
	}
	if rate := float64(cfg.UploadRateLimit); rate > 0 {
		imp.limiter = ratelimit.NewBucketWithRate(rate, int64(cfg.UploadRateLimit))
	}
	imp.cleaner = worker.NewWorker("import-cleanup", &imp.wg)
	return imp, nil
}

// Start runs the cleanup worker and subscribes it to region changes.
func (imp *Importer) Start() {
	imp.cleaner.Start(&cleanupHandler{imp: imp})
	imp.router.Subscribe(func(e region.Event) {
		if imp.stopped.Load() {
			return
		}
		if e.Kind != region.EventSplit && e.Kind != region.EventMerge {
			return
		}
		// Every cleanup checks all files against the current regions, so a full queue already covers e.
		select {
		case imp.cleaner.Sender() <- &cleanupTask{event: e}:
		default:
			log.Debug("import cleanup queue full, event coalesced", zap.Stringer("event", e.Kind))
		}
	})
}

func (imp *Importer) Stop() {
	if imp.stopped.Swap(true) {
		return
	}
	imp.cleaner.Stop()
	imp.wg.Wait()
}

// Collectors returns the importer's metrics.
func (imp *Importer) Collectors() []prometheus.Collector {
	return imp.metrics.collectors()
}

func (imp *Importer) Register(reg prometheus.Registerer) error {
	for _, c := range imp.Collectors() {
		if err := reg.Register(c); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (imp *Importer) path(meta *import_sstpb.SSTMeta) (string, error) {
	name, err := fileName(meta)
	if err != nil {
		return "", err
	}
	return filepath.Join(imp.dir, name), nil
}

// Upload streams r into the file described by meta. The length and crc32 of what was received must match meta;
// otherwise nothing is kept.
func (imp *Importer) Upload(meta *import_sstpb.SSTMeta, r io.Reader) (err error) {
	defer func() { imp.metrics.uploadCounter.WithLabelValues(outcome(err)).Inc() }()
	if imp.stopped.Load() {
		return ErrStopped
	}
	path, err := imp.path(meta)
	if err != nil {
		return err
	}
	if util.FileExists(path) {
		return errors.Annotate(ErrFileExists, filepath.Base(path))
	}
	tmpPath := path + tmpSuffix
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			// Another upload of the same file is running.
			return errors.Annotate(ErrFileExists, filepath.Base(tmpPath))
		}
		return errors.WithStack(err)
	}

	if imp.limiter != nil {
		r = ratelimit.Reader(r, imp.limiter)
	}
	digest := crc32.NewIEEE()
	n, err := io.Copy(io.MultiWriter(f, digest), r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && (uint64(n) != meta.Length || digest.Sum32() != meta.Crc32) {
		err = errors.Annotatef(ErrFileCorrupted, "%s: got length %d crc32 %d, want length %d crc32 %d",
			filepath.Base(path), n, digest.Sum32(), meta.Length, meta.Crc32)
	}
	if err != nil {
		if _, rmErr := util.DeleteFileIfExists(tmpPath); rmErr != nil {
			log.Warn("failed to remove upload", zap.String("path", tmpPath), zap.Error(rmErr))
		}
		return errors.Trace(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.WithStack(err)
	}
	imp.metrics.uploadBytes.Add(float64(n))
	log.Info("file uploaded", zap.String("path", path), zap.Int64("length", n))
	return nil
}

// Ingest writes the pairs of the file described by meta into ctx's region as one batch, then removes the file. The
// meta must name ctx's region at its current epoch and every key must be inside it.
func (imp *Importer) Ingest(ctx *kvrpcpb.Context, meta *import_sstpb.SSTMeta) (err error) {
	defer func() { imp.metrics.ingestCounter.WithLabelValues(outcome(err)).Inc() }()
	if imp.stopped.Load() {
		return ErrStopped
	}
	path, err := imp.path(meta)
	if err != nil {
		return err
	}
	if ctx.RegionId != meta.RegionId {
		return errors.Annotatef(ErrInvalidSSTMeta, "sst of region %d ingested into region %d", meta.RegionId, ctx.RegionId)
	}

	imp.mu.Lock()
	defer imp.mu.Unlock()
	current, err := imp.router.GetRegion(meta.RegionId)
	if err != nil {
		return err
	}
	if err := region.CheckRegionEpoch(meta.RegionEpoch, current, true); err != nil {
		return err
	}
	if !util.FileExists(path) {
		return errors.Annotate(ErrFileNotFound, filepath.Base(path))
	}
	_, crc, err := util.FileChecksum(path)
	if err != nil {
		return err
	}
	if crc != meta.Crc32 {
		return errors.Annotatef(ErrFileCorrupted, "%s: crc32 %d, want %d", filepath.Base(path), crc, meta.Crc32)
	}
	pairs, err := readFile(path)
	if err != nil {
		return err
	}

	batch := make([]storage.Modify, 0, len(pairs))
	for _, p := range pairs {
		if err := region.CheckKeyInRegion(p.Key, current); err != nil {
			return err
		}
		batch = append(batch, storage.Modify{Data: storage.Put{Cf: cfName(meta), Key: p.Key, Value: p.Value}})
	}
	// The write re-checks ctx against the router, so a split after the epoch check above still fails it.
	if err := imp.storage.Write(ctx, batch); err != nil {
		return err
	}
	if _, err := util.DeleteFileIfExists(path); err != nil {
		log.Warn("failed to remove ingested file", zap.String("path", path), zap.Error(err))
	}
	log.Info("file ingested", zap.String("path", path), zap.Int("pairs", len(pairs)))
	return nil
}

// Delete removes the file described by meta. Deleting a missing file is not an error.
func (imp *Importer) Delete(meta *import_sstpb.SSTMeta) error {
	path, err := imp.path(meta)
	if err != nil {
		return err
	}
	_, err = util.DeleteFileIfExists(path)
	return err
}

// List returns the metas of all complete files, with length and crc32 read from disk.
func (imp *Importer) List() ([]*import_sstpb.SSTMeta, error) {
	infos, err := ioutil.ReadDir(imp.dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var metas []*import_sstpb.SSTMeta
	for _, info := range infos {
		if info.IsDir() || filepath.Ext(info.Name()) == tmpSuffix {
			continue
		}
		meta, err := parseFileName(info.Name())
		if err != nil {
			log.Warn("unknown file in import dir", zap.String("name", info.Name()))
			continue
		}
		path := filepath.Join(imp.dir, info.Name())
		if meta.Length, meta.Crc32, err = util.FileChecksum(path); err != nil {
			if os.IsNotExist(errors.Cause(err)) {
				// Ingested or deleted since the directory was read.
				continue
			}
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// cleanup removes every file whose region is gone or has moved to a newer epoch.
func (imp *Importer) cleanup(e region.Event) {
	metas, err := imp.List()
	if err != nil {
		log.Error("failed to list import files", zap.Error(err))
		return
	}
	imp.mu.Lock()
	defer imp.mu.Unlock()
	for _, meta := range metas {
		current, err := imp.router.GetRegion(meta.RegionId)
		if err == nil && !region.IsEpochStale(meta.RegionEpoch, current.RegionEpoch) {
			continue
		}
		if err := imp.Delete(meta); err != nil {
			log.Warn("failed to remove stale import file", zap.Uint64("region-id", meta.RegionId), zap.Error(err))
			continue
		}
		imp.metrics.cleanupFiles.Inc()
		log.Info("stale import file removed",
			zap.Stringer("event", e.Kind),
			zap.Uint64("region-id", meta.RegionId),
			zap.Stringer("epoch", meta.RegionEpoch))
	}
}
