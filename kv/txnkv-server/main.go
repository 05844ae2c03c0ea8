package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/txnkv/kv/config"
	"github.com/pingcap-incubator/txnkv/kv/importer"
	"github.com/pingcap-incubator/txnkv/kv/region"
	"github.com/pingcap-incubator/txnkv/kv/server"
	"github.com/pingcap-incubator/txnkv/kv/storage"
	"github.com/pingcap-incubator/txnkv/kv/storage/badger_engine"
	"github.com/pingcap-incubator/txnkv/kv/storage/leveldb_engine"
	"github.com/pingcap-incubator/txnkv/kv/storage/pebble_engine"
	"github.com/pingcap-incubator/txnkv/kv/storage/region_storage"
	"github.com/pingcap-incubator/txnkv/kv/transaction/scheduler"
	"github.com/pingcap/errors"
	"github.com/pingcap/kvproto/pkg/metapb"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/unrolled/render"
	"go.uber.org/zap"
)

var (
	configPath string
	storeID    uint64
	dbPath     string
	engineKind string
	statusAddr string
)

func registerFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "C", "", "config file path")
	fs.Uint64Var(&storeID, "store-id", 0, "store id, overrides the config file")
	fs.StringVar(&dbPath, "db-path", "", "engine data directory, overrides the config file")
	fs.StringVar(&engineKind, "engine", "", "engine kind: memory, badger, pebble or leveldb")
	fs.StringVar(&statusAddr, "status-addr", "", "address of the status and metrics server")
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "txnkv-server",
		Short:         "Transactional KV node",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	registerFlags(rootCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		log.Error("txnkv-server exited", zap.Error(err))
		exit(1)
	}
	exit(0)
}

func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if configPath != "" {
		if err := cfg.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if fs.Changed("store-id") {
		cfg.StoreID = storeID
	}
	if fs.Changed("db-path") {
		cfg.Engine.DBPath = dbPath
	}
	if fs.Changed("engine") {
		cfg.Engine.Kind = engineKind
	}
	if fs.Changed("status-addr") {
		cfg.StatusAddr = statusAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	lg, props, err := log.InitLogger(&cfg.Log)
	if err != nil {
		return nil, errors.Annotate(err, "initialize logger")
	}
	log.ReplaceGlobals(lg, props)
	return cfg, nil
}

func openEngine(cfg *config.Engine) (storage.Engine, error) {
	switch cfg.Kind {
	case config.EngineMemory:
		return storage.NewMemEngine(), nil
	case config.EngineBadger:
		return badger_engine.NewBadgerEngine(cfg)
	case config.EnginePebble:
		return pebble_engine.NewPebbleEngine(cfg)
	case config.EngineLevelDB:
		return leveldb_engine.NewLevelDBEngine(cfg)
	}
	return nil, errors.Errorf("unknown engine kind %q", cfg.Kind)
}

func run(cfg *config.Config) error {
	log.Info("starting txnkv-server", zap.Uint64("store-id", cfg.StoreID), zap.String("engine", cfg.Engine.Kind),
		zap.String("status-addr", cfg.StatusAddr))

	engine, err := openEngine(&cfg.Engine)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn("close engine failed", zap.Error(err))
		}
	}()

	router := region.NewRouter(cfg.StoreID)
	// A single region covering the whole key space, led by this store.
	err = router.Bootstrap(&metapb.Region{
		Id:          1,
		RegionEpoch: &metapb.RegionEpoch{ConfVer: 1, Version: 1},
		Peers:       []*metapb.Peer{{Id: cfg.StoreID, StoreId: cfg.StoreID}},
	})
	if err != nil {
		return err
	}

	rs := region_storage.NewRegionStorage(engine, router)
	if err := rs.Start(); err != nil {
		return err
	}
	defer rs.Stop()

	sched, err := scheduler.NewScheduler(rs, &cfg.Scheduler)
	if err != nil {
		return err
	}
	defer sched.Stop()

	imp, err := importer.NewImporter(&cfg.Import, rs)
	if err != nil {
		return err
	}
	imp.Start()
	defer imp.Stop()

	svr := server.NewServer(sched)

	reg := prometheus.NewRegistry()
	if err := sched.Register(reg); err != nil {
		return err
	}
	if err := imp.Register(reg); err != nil {
		return err
	}
	statusServer := &http.Server{Addr: cfg.StatusAddr, Handler: newStatusHandler(cfg, router, svr, reg)}
	go func() {
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server failed", zap.Error(err))
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sc
	log.Info("got signal to exit", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := statusServer.Shutdown(ctx); err != nil {
		log.Warn("status server shutdown", zap.Error(err))
	}
	return nil
}

type status struct {
	StoreID   uint64           `json:"store_id"`
	Engine    string           `json:"engine"`
	Regions   []*metapb.Region `json:"regions"`
	Delivered uint64           `json:"delivered"`
	Canceled  uint64           `json:"canceled"`
}

func newStatusHandler(cfg *config.Config, router *region.Router, svr *server.Server, reg *prometheus.Registry) http.Handler {
	rd := render.New(render.Options{IndentJSON: true})
	r := mux.NewRouter()
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		rd.JSON(w, http.StatusOK, &status{
			StoreID:   cfg.StoreID,
			Engine:    cfg.Engine.Kind,
			Regions:   router.Regions(),
			Delivered: svr.Scheduler().Delivered(),
			Canceled:  svr.Scheduler().Canceled(),
		})
	}).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	return r
}

func exit(code int) {
	log.Sync()
	os.Exit(code)
}
