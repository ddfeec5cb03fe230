package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/reagent-go/reagent/pkg/devtools"
	"github.com/reagent-go/reagent/pkg/metrics"
	"github.com/reagent-go/reagent/pkg/reagent"
)

func inspectCmd() *cobra.Command {
	var addr string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Run a demo engine with the devtools inspector attached",
		Long: `Starts an engine that continuously mutates a sample reactive graph
and serves the inspector:

  GET /graph    JSON snapshot of cells, subscriptions and queue depths
  GET /events   WebSocket stream of engine events
  GET /metrics  Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sink := devtools.NewStreamSink(0)
			engine := reagent.New(
				reagent.WithEventSink(sink),
				reagent.WithHooks(metrics.New()),
			)
			defer engine.Close()

			state := engine.Wrap(map[string]any{"tick": 0, "phase": "init"})
			engine.SubscribeFields(state, []string{"tick", "phase"},
				func(changed []string) {},
				reagent.WithFlush(reagent.FlushBatched))

			go func() {
				n := 0
				for range time.Tick(interval) {
					n++
					state.Set("tick", n)
					if n%10 == 0 {
						state.Set("phase", fmt.Sprintf("cycle-%d", n/10))
					}
				}
			}()

			srv := devtools.NewServer(engine, sink)
			fmt.Printf("inspector listening on http://%s\n", addr)
			return http.ListenAndServe(addr, srv.Handler())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7379", "listen address")
	cmd.Flags().DurationVar(&interval, "interval", 250*time.Millisecond, "mutation interval")
	return cmd
}
