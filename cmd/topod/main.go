package main

import (
	"bytes"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/karalabe/topod/broker"
	"github.com/karalabe/topod/graph"
	"github.com/karalabe/topod/manager"
	"github.com/karalabe/topod/supplier"
	"github.com/karalabe/topod/topology"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	logLevelFlag string

	identityFlag string
	datadirFlag  string
	secretFlag   string
	bindAddrFlag string
	bindPortFlag int
	metricsFlag  string

	brokerFlag  string
	fixtureFlag string
	srcFlag     string
	dstFlag     string
)

func main() {
	// Configure the logger to print everything
	log.Root().SetHandler(log.LvlFilterHandler(log.LvlInfo, log.StreamHandler(os.Stderr, log.TerminalFormat(true))))

	// Create the command to run a topology engine
	cmdRun := &cobra.Command{
		Use:   "run",
		Short: "Run a topology engine fed by discovery events",
		Run:   runEngine,
	}
	cmdRun.Flags().StringVar(&identityFlag, "node.identity", "", "Unique identifier for this engine, used as the supplier and broker name")
	cmdRun.Flags().StringVar(&datadirFlag, "node.datadir", filepath.Join(os.Getenv("HOME"), ".topod", "<uid>"), "Folder to persist broker state through restarts")
	cmdRun.Flags().StringVar(&secretFlag, "node.secret", "", "Shared secret to authenticate discovery agents with")
	cmdRun.Flags().StringVar(&bindAddrFlag, "bind.addr", "0.0.0.0", "Listener interface for discovery agents")
	cmdRun.Flags().IntVar(&bindPortFlag, "bind.port", 4150, "Listener port for discovery agents")
	cmdRun.Flags().StringVar(&metricsFlag, "metrics.addr", "", "Listener address for the Prometheus metrics endpoint (empty = disabled)")
	cmdRun.Flags().StringVar(&fixtureFlag, "fixture", "", "Static topology to seed the engine with (TOML)")
	cmdRun.MarkFlagRequired("node.identity")
	cmdRun.MarkFlagRequired("node.secret")

	// Create the command to feed a remote engine
	cmdPublish := &cobra.Command{
		Use:   "publish",
		Short: "Publish a static topology as discovery events into a running engine",
		Run:   runPublish,
	}
	cmdPublish.Flags().StringVar(&secretFlag, "node.secret", "", "Shared secret to authenticate with the engine")
	cmdPublish.Flags().StringVar(&brokerFlag, "broker", "127.0.0.1:4150", "Address of the engine's discovery broker")
	cmdPublish.Flags().StringVar(&fixtureFlag, "fixture", "", "Static topology to publish (TOML)")
	cmdPublish.MarkFlagRequired("node.secret")
	cmdPublish.MarkFlagRequired("fixture")

	// Create the command to inspect a topology offline
	cmdShow := &cobra.Command{
		Use:   "show",
		Short: "Compute and print the topology of a static network",
		Run:   runShow,
	}
	cmdShow.Flags().StringVar(&fixtureFlag, "fixture", "", "Static topology to compute (TOML)")
	cmdShow.Flags().StringVar(&srcFlag, "src", "", "Source device to print the shortest paths from")
	cmdShow.Flags().StringVar(&dstFlag, "dst", "", "Destination device to print the shortest paths to")
	cmdShow.MarkFlagRequired("fixture")

	rootCmd := &cobra.Command{
		Use:              "topod",
		PersistentPreRun: setupLogger,
	}
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log.level", "info", "Log level to emit (trace, debug, info, warn, error, crit)")
	rootCmd.AddCommand(cmdRun, cmdPublish, cmdShow)
	rootCmd.Execute()
}

// setupLogger reconfigures the root logger to the user requested verbosity.
func setupLogger(cmd *cobra.Command, args []string) {
	level, err := log.LvlFromString(logLevelFlag)
	if err != nil {
		log.Crit("Invalid log level", "level", logLevelFlag, "err", err)
	}
	log.Root().SetHandler(log.LvlFilterHandler(level, log.StreamHandler(os.Stderr, log.TerminalFormat(true))))
}

func runEngine(cmd *cobra.Command, args []string) {
	// Create the topology manager, exporting its stats if requested
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	manager := manager.New(&manager.Config{
		Registerer: registry,
		Logger:     log.New("component", "manager"),
	})
	defer manager.Close()

	manager.AddListener(&reporter{logger: log.New("component", "reporter")})

	if metricsFlag != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		server := &http.Server{Addr: metricsFlag, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server failed", "err", err)
			}
		}()
		defer server.Close()

		log.Info("Metrics endpoint enabled", "addr", metricsFlag)
	}
	// Configure and start the discovery broker
	brokerConfig := &broker.Config{
		Name:    identityFlag,
		Datadir: strings.Replace(datadirFlag, "<uid>", identityFlag, -1),
		Secret:  secretFlag,
		Listener: &net.TCPAddr{
			IP:   net.ParseIP(bindAddrFlag),
			Port: bindPortFlag,
		},
		Logger: log.New("component", "broker"),
	}
	broker, err := broker.New(brokerConfig)
	if err != nil {
		log.Crit("Failed to start discovery broker", "err", err)
	}
	defer broker.Close()

	// Configure and start the topology supplier on top of the broker
	supplierConfig := &supplier.Config{
		Name:   identityFlag,
		Broker: broker,
		Logger: log.New("component", "supplier"),
	}
	supplier, err := supplier.New(supplierConfig, manager)
	if err != nil {
		log.Crit("Failed to start topology supplier", "err", err)
	}
	defer supplier.Close()

	// If a static topology was specified, seed the engine with it
	if fixtureFlag != "" {
		devices, links := loadFixture()
		if err := supplier.Seed(devices, links); err != nil {
			log.Crit("Failed to seed topology", "err", err)
		}
	}
	// Wait until the process is terminated
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt)
	<-signalCh
}

func runPublish(cmd *cobra.Command, args []string) {
	devices, links := loadFixture()

	client := broker.NewClient(secretFlag, log.New("component", "client"))
	producer, err := client.NewProducer(brokerFlag)
	if err != nil {
		log.Crit("Failed to create discovery producer", "err", err)
	}
	defer producer.Stop()

	reasons := supplier.FixtureReasons(devices, links)
	for _, reason := range reasons {
		blob, err := supplier.Encode(reason)
		if err != nil {
			log.Crit("Failed to encode discovery event", "event", reason, "err", err)
		}
		if err := producer.Publish(supplier.DiscoveryTopic, blob); err != nil {
			log.Crit("Failed to publish discovery event", "event", reason, "err", err)
		}
	}
	log.Info("Published static topology", "broker", brokerFlag, "devices", len(devices), "links", len(links))
}

func runShow(cmd *cobra.Command, args []string) {
	devices, links := loadFixture()

	snapshot, err := topology.NewBuilder(nil).Build(devices, links)
	if err != nil {
		log.Crit("Failed to build topology", "err", err)
	}
	view := topology.NewView(snapshot)
	topology.Report(os.Stdout, view)

	if srcFlag != "" && dstFlag != "" {
		src, dst := graph.DeviceID(srcFlag), graph.DeviceID(dstFlag)
		topology.ReportPaths(os.Stdout, src, dst, view.Paths(src, dst))
	}
}

// loadFixture reads the static topology requested by the user.
func loadFixture() ([]graph.Device, []graph.Link) {
	devices, links, err := supplier.LoadFixture(fixtureFlag)
	if err != nil {
		log.Crit("Failed to load topology fixture", "err", err)
	}
	return devices, links
}

// reporter is a topology listener printing every newly activated topology.
type reporter struct {
	logger log.Logger
}

// OnTopologyChange implements manager.Listener.
func (r *reporter) OnTopologyChange(event *manager.Event) error {
	buffer := new(bytes.Buffer)
	topology.Report(buffer, event.View)

	r.logger.Info("Network topology changed", "initial", event.Initial(), "reasons", len(event.Reasons))
	r.logger.Debug("Active network topology\n\n" + buffer.String())
	return nil
}
