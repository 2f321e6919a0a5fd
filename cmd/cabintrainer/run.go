package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/cabintrainer/internal/core/observability/log"
	"github.com/zeusync/cabintrainer/internal/scenario"
	"github.com/zeusync/cabintrainer/internal/store"
	"github.com/zeusync/cabintrainer/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

var errIncomplete = errors.New("procedure not completed")

type runOptions struct {
	scenario string
	serve    string
	db       string
	realtime bool
	linger   time.Duration
	asJSON   bool
	strict   bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a scenario script and report procedure progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.app.Config
			if !cmd.Flags().Changed("serve") {
				opts.serve = cfg.Telemetry.Addr
			}
			if !cmd.Flags().Changed("db") {
				opts.db = cfg.Store.Path
			}
			return runScenario(cmd.Context(), root, opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.scenario, "scenario", "s", "", "scenario file (yaml)")
	f.StringVar(&opts.serve, "serve", "", "serve /ws and /metrics on this address while running")
	f.StringVar(&opts.db, "db", "", "append the session to this SQLite progress log")
	f.BoolVar(&opts.realtime, "realtime", false, "pace replay to wall-clock time")
	f.DurationVar(&opts.linger, "linger", 0, "keep serving this long after the script ends")
	f.BoolVar(&opts.asJSON, "json", false, "print the report as JSON")
	f.BoolVar(&opts.strict, "strict", false, "fail when a procedure is left incomplete")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func runScenario(ctx context.Context, root *rootOptions, opts *runOptions, out io.Writer) error {
	app := root.app
	sc, err := scenario.LoadFile(opts.scenario)
	if err != nil {
		return err
	}
	build := app.Config.Sim.Scenario()
	build.Bus = app.Bus
	build.Log = app.Log
	build.Realtime = opts.realtime
	s, err := scenario.Build(sc, build)
	if err != nil {
		return err
	}
	defer s.Close()

	app.Bus.AddObserver(app.Metrics)
	defer app.Bus.RemoveObserver(app.Metrics)

	var rec *store.Recorder
	if opts.db != "" {
		st, err := store.Open(opts.db, app.Log)
		if err != nil {
			return err
		}
		defer st.Close()
		if rec, err = st.Begin(ctx, s.ID, sc.Name, s.Manager.SimTime); err != nil {
			return err
		}
		app.Bus.AddObserver(rec)
		defer app.Bus.RemoveObserver(rec)
		defer func() {
			if err := st.Finish(context.WithoutCancel(ctx), s.ID, s.Report(nil).Completed); err != nil {
				app.Log.Warn("finishing session failed", log.Error(err))
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	var srv *http.Server
	if opts.serve != "" {
		ln, err := net.Listen("tcp", opts.serve)
		if err != nil {
			return fmt.Errorf("listen %s: %w", opts.serve, err)
		}
		app.Bus.AddObserver(app.Hub)
		defer app.Bus.RemoveObserver(app.Hub)
		srv = &http.Server{Handler: telemetry.Mux(app.Hub, app.Metrics), ReadHeaderTimeout: 5 * time.Second}
		app.Log.Info("telemetry listening", log.String("addr", ln.Addr().String()))
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	var report *scenario.Report
	g.Go(func() error {
		defer func() {
			if srv == nil {
				return
			}
			app.Hub.Close()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		var err error
		report, err = s.Run(gctx)
		if err != nil {
			return err
		}
		if srv != nil && opts.linger > 0 {
			select {
			case <-gctx.Done():
			case <-time.After(opts.linger):
			}
		}
		return nil
	})
	err = g.Wait()

	if report != nil {
		if perr := printReport(out, report, opts.asJSON); perr != nil {
			err = errors.Join(err, perr)
		}
	}
	if rec != nil {
		err = errors.Join(err, rec.Err())
	}
	if err == nil && opts.strict && !report.Completed {
		return errIncomplete
	}
	return err
}

func printReport(w io.Writer, r *scenario.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	status := "incomplete"
	if r.Completed {
		status = "completed"
	}
	fmt.Fprintf(w, "%s (%s): %s after %.2fs simulated, %d notifications\n",
		r.Scenario, r.Session, status, r.SimTime, len(r.Notifications))
	for _, p := range r.Procedures {
		fmt.Fprintf(w, "  %s: %d/%d steps", p.Procedure, p.Lit(), len(p.Steps))
		if p.Resets > 0 {
			fmt.Fprintf(w, ", %d resets", p.Resets)
		}
		fmt.Fprintln(w)
	}
	for _, a := range r.Actions {
		if !a.OK {
			fmt.Fprintf(w, "  action #%d %s at %.2fs had no effect\n", a.Index, a.Do, a.At)
		}
	}
	ids := make([]string, 0, len(r.Degraded))
	for id := range r.Degraded {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  degraded %s: %s\n", id, r.Degraded[id])
	}
	return nil
}
