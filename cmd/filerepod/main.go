// cmd/filerepod is the node process hosting FileStore, optionally a
// ReplicationEngine, an ActiveCluster peer, and a FlatGroupCoordinator
// member, fronted by a Gin HTTP API. Every component is constructed
// from a single config.Config and wired together here rather than
// reaching for package-level state, mirroring the teacher's
// cmd/server/main.go flag-driven single-binary-serves-any-role shape.
//
// Example — three-node ActiveCluster:
//
//	./filerepod --id node1 --http-addr :8080 --cluster-addr :9001 \
//	            --cluster-peers node2=localhost:9002,node3=localhost:9003
//	./filerepod --id node2 --http-addr :8081 --cluster-addr :9002 \
//	            --cluster-peers node1=localhost:9001,node3=localhost:9003
//	./filerepod --id node3 --http-addr :8082 --cluster-addr :9003 \
//	            --cluster-peers node1=localhost:9001,node2=localhost:9002
//
// Example — lazy-invalidation master with two replicas:
//
//	./filerepod --id master --http-addr :8080 --replication-mode lazy \
//	            --replication-replicas r1=/data/r1,r2=/data/r2
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/kduvra/filerepo/internal/activecluster"
	"github.com/kduvra/filerepo/internal/api"
	"github.com/kduvra/filerepo/internal/config"
	"github.com/kduvra/filerepo/internal/coreop"
	"github.com/kduvra/filerepo/internal/faultinjector"
	"github.com/kduvra/filerepo/internal/filestore"
	"github.com/kduvra/filerepo/internal/flatgroup"
	"github.com/kduvra/filerepo/internal/replication"
)

func main() {
	fs := pflag.NewFlagSet("filerepod", pflag.ExitOnError)
	cfg := config.BindFlags(fs)

	nodeID := fs.String("id", "node1", "unique node identifier")
	httpAddr := fs.String("http-addr", ":8080", "HTTP API listen address")

	clusterAddr := fs.String("cluster-addr", "", "ActiveCluster peer-protocol listen address (enables ActiveCluster)")
	clusterPeers := fs.String("cluster-peers", "", "comma-separated id=host:port ActiveCluster peers")

	flatInternalAddr := fs.String("group-internal-addr", "", "FlatGroupCoordinator internal listen address (enables FlatGroupCoordinator)")
	flatClientAddr := fs.String("group-client-addr", "", "FlatGroupCoordinator client listen address")
	flatBootstrap := fs.String("group-bootstrap", "", "comma-separated internal addresses of existing group members")

	replicationMode := fs.String("replication-mode", "", "one of strict|continuous|lazy (enables ReplicationEngine as master)")
	replicationPollMs := fs.Int("replication-poll-ms", 2000, "continuous/lazy mode poll interval")
	replicationReplicas := fs.String("replication-replicas", "", "comma-separated id=path ReplicationEngine replica directories")

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := config.LoadEnv(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("node", *nodeID).Logger()

	storeDir := filepath.Join(cfg.StorageBasePath, *nodeID)
	store, err := filestore.New(storeDir, cfg.ReplicationVerifyWrites)
	if err != nil {
		log.Fatal().Err(err).Msg("open file store")
	}

	metaCache, err := filestore.NewMetadataCache(store, filepath.Join(storeDir, ".metadata.wal"))
	if err != nil {
		log.Fatal().Err(err).Msg("open metadata cache")
	}

	// The bare-store HTTP path answers Metadata from metaCache's
	// WAL-backed index instead of re-hashing every file on
	// disk; ActiveCluster below replaces repo with *activecluster.Node,
	// which owns its own apply-then-fan-out path and bypasses the cache.
	var repo coreop.Repository = coreop.NewMetadataCacheRepository(metaCache)

	// ── ActiveCluster (optional) ────────────────────────────────────────────
	var clusterServer *activecluster.Server
	var healthMonitor *activecluster.HealthMonitor
	if *clusterAddr != "" {
		peers, err := parsePeers(*clusterPeers)
		if err != nil {
			log.Fatal().Err(err).Msg("parse cluster-peers")
		}
		membership := activecluster.NewMembership(*nodeID, peers)
		transport := activecluster.NewTransport(cfg.ConnectionTimeout())
		locks := activecluster.NewLockManager(*nodeID, membership, transport, cfg.ConsensusRequireUnanimity, cfg.LockTimeout(), log)
		node := activecluster.NewNode(*nodeID, store, membership, locks, transport, cfg.SyncTimeout(), log)

		clusterServer = activecluster.NewServer(*clusterAddr, node, log)
		go func() {
			if err := clusterServer.Serve(); err != nil {
				log.Error().Err(err).Msg("cluster server stopped")
			}
		}()

		healthMonitor = activecluster.NewHealthMonitor(node, membership, transport, cfg.HealthCheckInterval(), cfg.ConnectionTimeout(), log)
		healthMonitor.Start()

		for _, p := range peers {
			if err := activecluster.SyncFrom(node, transport, p.Address, cfg.SyncTimeout()); err != nil {
				log.Warn().Err(err).Str("peer", p.ID).Msg("initial sync failed")
			}
		}

		repo = node
	}

	// ── ReplicationEngine (optional) ────────────────────────────────────────
	var replEngine *replication.Engine
	if *replicationMode != "" {
		mode, err := parseReplicationMode(*replicationMode)
		if err != nil {
			log.Fatal().Err(err).Msg("parse replication-mode")
		}
		replEngine = replication.New(mode, store, time.Duration(*replicationPollMs)*time.Millisecond, log)

		replicas, err := parseReplicas(*replicationReplicas)
		if err != nil {
			log.Fatal().Err(err).Msg("parse replication-replicas")
		}
		for id, path := range replicas {
			if err := replEngine.AddReplica(id, path); err != nil {
				log.Error().Err(err).Str("replica", id).Msg("add replica failed")
			}
		}

		if err := replEngine.Start(); err != nil {
			log.Fatal().Err(err).Msg("start replication engine")
		}
	}

	// ── FlatGroupCoordinator (optional) ─────────────────────────────────────
	var groupInternal *flatgroup.InternalServer
	var groupClient *flatgroup.ClientServer
	if *flatInternalAddr != "" {
		self := flatgroup.Member{ID: *nodeID, InternalAddr: *flatInternalAddr, ClientAddr: *flatClientAddr}
		groupMembership := flatgroup.NewMembership(self)
		injector := faultinjector.New(faultinjector.Config{
			BaseDelay:             time.Duration(cfg.FaultBaseDelayMs) * time.Millisecond,
			MaxDelay:              time.Duration(cfg.FaultMaxDelayMs) * time.Millisecond,
			ConnectionFailureRate: cfg.FaultConnectionFailureRate,
			IncorrectResponseRate: cfg.FaultIncorrectResponseRate,
		})
		coordinator := flatgroup.NewCoordinator(self, groupMembership, injector, cfg.LockTimeout(), cfg.ConnectionTimeout(), cfg.LockTimeout(), log)

		groupInternal = flatgroup.NewInternalServer(*flatInternalAddr, coordinator, groupMembership, injector, log)
		groupClient = flatgroup.NewClientServer(*flatClientAddr, coordinator)
		go func() {
			if err := groupInternal.Serve(); err != nil {
				log.Error().Err(err).Msg("group internal server stopped")
			}
		}()
		go func() {
			if err := groupClient.Serve(); err != nil {
				log.Error().Err(err).Msg("group client server stopped")
			}
		}()

		if *flatBootstrap != "" {
			coordinator.Bootstrap(strings.Split(*flatBootstrap, ","))
		}
	}

	// ── HTTP API ─────────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(log), api.Recovery(log))

	handler := api.NewHandler(repo)
	handler.Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"node": *nodeID, "status": "ok"})
	})

	if clusterNode, ok := repo.(*activecluster.Node); ok {
		registerClusterRoutes(router, clusterNode)
	}

	srv := &http.Server{
		Addr:         *httpAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", *httpAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if clusterServer != nil {
		clusterServer.Close()
	}
	if healthMonitor != nil {
		healthMonitor.Stop()
	}
	if replEngine != nil {
		replEngine.Stop()
	}
	if groupInternal != nil {
		groupInternal.Close()
	}
	if groupClient != nil {
		groupClient.Close()
	}
	if err := metaCache.Close(); err != nil {
		log.Error().Err(err).Msg("metadata cache close error")
	}
}

// registerClusterRoutes mounts the ActiveCluster admin surface the CLI's
// "cluster join|leave|nodes|lock-status" commands drive.
func registerClusterRoutes(router *gin.Engine, node *activecluster.Node) {
	grp := router.Group("/cluster")

	grp.GET("/nodes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"nodes": node.Peers()})
	})

	grp.POST("/join", func(c *gin.Context) {
		var body struct {
			ID      string `json:"id" binding:"required"`
			Address string `json:"address" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		node.Join(body.ID, body.Address)
		c.JSON(http.StatusOK, gin.H{"joined": body.ID})
	})

	grp.POST("/leave", func(c *gin.Context) {
		var body struct {
			ID string `json:"id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		node.Leave(body.ID)
		c.JSON(http.StatusOK, gin.H{"left": body.ID})
	})

	grp.GET("/lock-status/:resource", func(c *gin.Context) {
		resource := c.Param("resource")
		epoch, held := node.LockStatus(resource)
		c.JSON(http.StatusOK, gin.H{"resource": resource, "held": held, "epoch": epoch})
	})
}

func parsePeers(s string) ([]activecluster.PeerDescriptor, error) {
	if s == "" {
		return nil, nil
	}
	var peers []activecluster.PeerDescriptor
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid peer format %q: expected id=host:port", entry)
		}
		peers = append(peers, activecluster.PeerDescriptor{ID: parts[0], Address: parts[1]})
	}
	return peers, nil
}

// parseReplicas parses a comma-separated id=path list into a map,
// the ReplicationEngine counterpart to parsePeers' id=host:port
// parsing for ActiveCluster.
func parseReplicas(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid replica format %q: expected id=path", entry)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

func parseReplicationMode(s string) (replication.Mode, error) {
	switch s {
	case "strict":
		return replication.Strict, nil
	case "continuous":
		return replication.Continuous, nil
	case "lazy":
		return replication.Lazy, nil
	default:
		return 0, fmt.Errorf("unknown replication mode %q", s)
	}
}
