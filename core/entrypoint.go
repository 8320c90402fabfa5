package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/encodeous/dvr/state"
	"github.com/encodeous/dvr/transport"
	"github.com/encodeous/tint"
	"github.com/goccy/go-yaml"
	slogmulti "github.com/samber/slog-multi"
	"golang.org/x/sync/errgroup"
)

// RunOptions tune a node started from the command line
type RunOptions struct {
	Level slog.Level
	// PrintTable logs every routing table the router installs
	PrintTable bool
	// Console, if set, is read for "<dest> <message>" lines which are sent as DATA
	Console io.Reader
	// DebugAddr, if set, serves expvar and the packet rate metrics over http
	DebugAddr string
}

func ReadNodeConfig(nodePath string) (*state.LocalCfg, error) {
	var nodeCfg state.LocalCfg
	file, err := os.ReadFile(nodePath)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(file, &nodeCfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", nodePath, err)
	}
	return &nodeCfg, nil
}

// NewLogger writes coloured logs to stderr and, if the node has a log path, plain text logs to that file
func NewLogger(ncfg state.LocalCfg, level slog.Level) (*slog.Logger, func() error, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: ncfg.Address.String(),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	closer := func() error { return nil }
	if ncfg.LogPath != "" {
		err := os.MkdirAll(filepath.Dir(ncfg.LogPath), 0700)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(ncfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
		closer = f.Close
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// Start runs a node until it receives SIGINT or SIGTERM
func Start(ncfg state.LocalCfg, opts RunOptions) error {
	if err := state.NodeConfigValidator(&ncfg); err != nil {
		return err
	}
	logger, closeLog, err := NewLogger(ncfg, opts.Level)
	if err != nil {
		return err
	}
	defer closeLog()

	conn, err := transport.ListenUDP(ncfg.Bind)
	if err != nil {
		return err
	}

	env := state.NewEnv(context.Background(), ncfg, logger)
	r := NewRouter(env, conn)

	if opts.DebugAddr != "" {
		go func() {
			logger.Info("serving debug endpoints", "addr", opts.DebugAddr)
			logger.Error("debug server stopped", "error", http.ListenAndServe(opts.DebugAddr, nil))
		}()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			env.Cancel(errors.New("received shutdown signal"))
		case <-env.Context.Done():
		}
	}()

	err = Run(r, conn, opts)
	logger.Info("stopped", "reason", context.Cause(env.Context))
	return err
}

// PacketConn is a transport that can also feed received datagrams to a handler
type PacketConn interface {
	Transport
	Serve(ctx context.Context, handler transport.Handler) error
	Close() error
}

// Run starts r on conn and blocks until the router's environment is cancelled, then stops the
// router and closes conn.
func Run(r *Router, conn PacketConn, opts RunOptions) error {
	g, ctx := errgroup.WithContext(r.Context)

	if opts.PrintTable {
		events, unsubscribe := r.Presenter.Subscribe(16)
		g.Go(func() error {
			defer unsubscribe()
			return r.logEvents(ctx, events)
		})
	}

	g.Go(func() error {
		return conn.Serve(ctx, r.HandlePacket)
	})

	if err := r.Start(); err != nil {
		r.Cancel(err)
	}

	if opts.Console != nil {
		go func() {
			// the console may block on stdin forever, it is not part of the group
			if err := RunConsole(ctx, r, opts.Console); err != nil {
				r.Env.Log.Error("console stopped", "error", err)
			}
		}()
	}

	g.Go(func() error {
		<-ctx.Done()
		r.Stop()
		return conn.Close()
	})

	return g.Wait()
}

func (r *Router) logEvents(ctx context.Context, events <-chan any) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch ev := ev.(type) {
			case TableSnapshot:
				tbl := state.NewRoutingTable()
				for _, re := range ev.Routes {
					tbl.Insert(re)
				}
				r.Env.Log.Info(fmt.Sprintf("routing table of %s:\n%s", ev.Local, tbl))
			case NeighbourSnapshot:
				for _, n := range ev.Neighbours {
					r.Env.Log.Info("neighbour", "addr", n.Addr, "host", n.Host, "port", n.Port, "dist", n.Distance, "remote", n.RemoteInit)
				}
			}
		}
	}
}
