// Command eshm is a demo front-end for the shared memory substrate: a master
// and a slave exchanging typed records on one region, plus a stats probe.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eshm-project/eshm-go/pkg/eshm"
	"github.com/eshm-project/eshm-go/pkg/eshmdata"
)

var (
	regionName string
	staleMs    uint32
	healthAddr string
	interval   time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "eshm",
		Short: "Shared memory IPC demo",
	}
	root.PersistentFlags().StringVarP(&regionName, "name", "n", "demo", "region name")
	root.PersistentFlags().Uint32Var(&staleMs, "stale-ms", 100, "staleness threshold in milliseconds")
	root.PersistentFlags().StringVar(&healthAddr, "health-addr", "", "serve /live and /metrics on this address")
	root.PersistentFlags().DurationVar(&interval, "interval", 500*time.Millisecond, "publish interval")

	root.AddCommand(masterCmd(), slaveCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildConfig(role eshm.Role) eshm.Config {
	cfg := eshm.DefaultConfig(regionName)
	cfg.Role = role
	cfg.StaleThreshold = time.Duration(staleMs) * time.Millisecond
	return cfg
}

func serveHealth(ctx context.Context, h *eshm.Handle) error {
	if healthAddr == "" {
		<-ctx.Done()
		return nil
	}
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("eshm-peer", h.LivenessCheck())

	mux := http.NewServeMux()
	mux.Handle("/live", http.HandlerFunc(health.LiveEndpoint))
	mux.Handle("/ready", http.HandlerFunc(health.ReadyEndpoint))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: healthAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func runEndpoint(role eshm.Role, produce func(seq uint64) []eshmdata.Item) error {
	h, err := eshm.Init(buildConfig(role))
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Destroy(); err != nil {
			fmt.Fprintf(os.Stderr, "destroy: %v\n", err)
		}
	}()

	resolved, _ := h.Role()
	fmt.Printf("running as %s on region %q\n", resolved, regionName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	x := eshmdata.NewExchange(h)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return serveHealth(ctx, h) })

	g.Go(func() error {
		var seq uint64
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			seq++
			if err := x.Send(produce(seq)); err != nil {
				fmt.Fprintf(os.Stderr, "send: %v\n", err)
			}
		}
	})

	g.Go(func() error {
		for {
			if ctx.Err() != nil {
				return nil
			}
			items, err := x.Receive(200 * time.Millisecond)
			if err != nil {
				continue
			}
			for _, it := range items {
				fmt.Printf("<- %s %s = %v\n", it.Type, it.Key, it.Value)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			alive, err := h.CheckRemoteAlive()
			if err != nil {
				continue
			}
			if !alive {
				fmt.Println("peer is stale")
			}
		}
	})

	return g.Wait()
}

func masterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "master",
		Short: "Run the master endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEndpoint(eshm.RoleMaster, func(seq uint64) []eshmdata.Item {
				return []eshmdata.Item{
					eshmdata.Integer("seq", int64(seq)),
					eshmdata.String("from", "master"),
					eshmdata.Real("ts", float64(time.Now().UnixNano())/1e9),
				}
			})
		},
	}
}

func slaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slave",
		Short: "Run the slave endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEndpoint(eshm.RoleSlave, func(seq uint64) []eshmdata.Item {
				return []eshmdata.Item{
					eshmdata.Integer("seq", int64(seq)),
					eshmdata.String("from", "slave"),
					eshmdata.Boolean("ack", true),
				}
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Attach briefly and print region statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := eshm.Init(buildConfig(eshm.RoleAuto))
			if err != nil {
				return err
			}
			defer func() { _ = h.Destroy() }()

			// Let the heartbeats move so the deltas mean something.
			time.Sleep(200 * time.Millisecond)
			s, err := h.GetStats()
			if err != nil {
				return err
			}

			fmt.Printf("master: hb=%d (+%d) pid=%d alive=%v\n",
				s.MasterHeartbeat, s.MasterHeartbeatDelta, s.MasterPID, s.MasterAlive)
			fmt.Printf("slave:  hb=%d (+%d) pid=%d alive=%v\n",
				s.SlaveHeartbeat, s.SlaveHeartbeatDelta, s.SlavePID, s.SlaveAlive)
			fmt.Printf("generation=%d stale-threshold=%dms\n", s.MasterGeneration, s.StaleThresholdMs)
			fmt.Printf("m2s writes=%d reads=%d  s2m writes=%d reads=%d\n",
				s.M2SWriteCount, s.M2SReadCount, s.S2MWriteCount, s.S2MReadCount)

			running, err := h.RemoteProcessRunning()
			if err == nil {
				fmt.Printf("remote process running: %v\n", running)
			}
			return nil
		},
	}
}
