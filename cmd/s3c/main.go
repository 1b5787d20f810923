// Package main is s3c, a command-line front end for the corona-s3 bucket
// client.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BobDickinson/corona-s3/internal/client"
	"github.com/BobDickinson/corona-s3/internal/config"
	"github.com/BobDickinson/corona-s3/internal/fakes3"
	"github.com/BobDickinson/corona-s3/internal/logging"
	"github.com/BobDickinson/corona-s3/internal/metrics"
	"github.com/BobDickinson/corona-s3/internal/request"
)

// tickInterval is how often the scheduler is driven in -async mode.
const tickInterval = 10 * time.Millisecond

const usage = `usage: s3c [flags] <command> [args]

commands:
  ls [prefix]      list keys (JSON)
  head <key>       print status and headers
  get <key> [file] print the object, or save it to file
  put <key> <file> upload file
  rm <key>         delete key

flags:
`

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: built-in defaults)")
	bucketName := flag.String("bucket", "", "bucket name")
	endpoint := flag.String("endpoint", "", "override service endpoint (default: from config or s3.amazonaws.com)")
	proxyAddr := flag.String("proxy", "", "override forward proxy (default: from config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	delimiter := flag.String("delimiter", "", "ls: roll keys up at this delimiter")
	maxKeys := flag.Int("max-keys", 0, "ls: page size")
	marker := flag.String("marker", "", "ls: start after this key")
	async := flag.Bool("async", false, "run the operation through the scheduler instead of blocking")
	serveFake := flag.String("serve-fake", "", "serve an in-memory S3 endpoint on this address and point the client at it")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Command-line flags override config file values.
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if *proxyAddr != "" {
		cfg.Proxy = *proxyAddr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *serveFake != "" {
		srv, err := startFake(*serveFake, *bucketName, &cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start fake endpoint: %v\n", err)
			os.Exit(1)
		}
		defer srv.Close()
		if flag.NArg() == 0 {
			<-ctx.Done()
			slog.Info("Fake endpoint stopped")
			return
		}
	}

	if flag.NArg() == 0 || *bucketName == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.ResolveCredentials(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve credentials: %v\n", err)
		os.Exit(1)
	}

	if cfg.Metrics.Enabled {
		metrics.Register()
		go serveMetrics(cfg.Metrics.Addr)
	}

	c := client.New(cfg)
	cmd := command{
		ctx:    ctx,
		client: c,
		bucket: c.Bucket(*bucketName),
		async:  *async,
		out:    os.Stdout,
		query: request.ListQuery{
			Delimiter: *delimiter,
			MaxKeys:   *maxKeys,
			Marker:    *marker,
		},
	}
	os.Exit(cmd.run(flag.Args()))
}

// startFake serves an in-memory endpoint on addr holding bucket, and
// rewrites cfg so the client reaches it.
func startFake(addr, bucket string, cfg *config.Config) (*fakes3.Server, error) {
	if cfg.Credentials.AccessKey == "" {
		cfg.Credentials.AccessKey = "corona"
		cfg.Credentials.SecretKey = "corona-secret"
	}
	srv := fakes3.New(
		fakes3.WithDomain(fakes3.DefaultDomain),
		fakes3.WithCredentials(cfg.Credentials.AccessKey, cfg.Credentials.SecretKey),
	)
	if bucket != "" {
		srv.CreateBucket(bucket)
	}
	bound, err := srv.Start(addr)
	if err != nil {
		return nil, err
	}
	host, port, err := net.SplitHostPort(bound)
	if err != nil {
		srv.Close()
		return nil, err
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = "127.0.0.1"
	}

	cfg.Endpoint = fakes3.DefaultDomain + ":" + port
	cfg.Proxy = ""
	hosts := make(map[string]string, len(cfg.Transport.StaticHosts)+1)
	for k, v := range cfg.Transport.StaticHosts {
		hosts[k] = v
	}
	if bucket != "" {
		hosts[bucket+"."+fakes3.DefaultDomain] = host
	}
	cfg.Transport.StaticHosts = hosts

	slog.Info("Fake endpoint listening", "addr", bound, "bucket", bucket)
	return srv, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("Metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server error", "error", err)
	}
}

// command runs one subcommand against a bucket.
type command struct {
	ctx    context.Context
	client *client.Client
	bucket *client.Bucket
	async  bool
	out    io.Writer
	query  request.ListQuery
}

// run executes args and returns the process exit code.
func (c *command) run(args []string) int {
	name, rest := args[0], args[1:]
	need := map[string][2]int{
		"ls":   {0, 1},
		"head": {1, 1},
		"get":  {1, 2},
		"put":  {2, 2},
		"rm":   {1, 1},
	}
	bounds, ok := need[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
		return 2
	}
	if len(rest) < bounds[0] || len(rest) > bounds[1] {
		fmt.Fprintf(os.Stderr, "wrong number of arguments for %s\n", name)
		return 2
	}

	var op func(client.Callback) (client.Result, *client.Task)
	switch name {
	case "ls":
		q := c.query
		if len(rest) == 1 {
			q.Prefix = rest[0]
		}
		op = func(cb client.Callback) (client.Result, *client.Task) { return c.bucket.List(c.ctx, q, cb) }
	case "head":
		op = func(cb client.Callback) (client.Result, *client.Task) { return c.bucket.Head(c.ctx, rest[0], nil, cb) }
	case "get":
		if len(rest) == 2 {
			op = func(cb client.Callback) (client.Result, *client.Task) {
				return c.bucket.GetToFile(c.ctx, rest[0], nil, rest[1], cb)
			}
		} else {
			op = func(cb client.Callback) (client.Result, *client.Task) { return c.bucket.Get(c.ctx, rest[0], nil, cb) }
		}
	case "put":
		op = func(cb client.Callback) (client.Result, *client.Task) {
			return c.bucket.PutFromFile(c.ctx, rest[0], rest[1], nil, cb)
		}
	case "rm":
		op = func(cb client.Callback) (client.Result, *client.Task) { return c.bucket.Delete(c.ctx, rest[0], cb) }
	}

	res := c.execute(op)
	return c.report(name, len(rest) == 2, res)
}

// execute runs op blocking, or in -async mode through the scheduler.
func (c *command) execute(op func(client.Callback) (client.Result, *client.Task)) client.Result {
	if !c.async {
		res, _ := op(nil)
		return res
	}

	done := make(chan client.Result, 1)
	_, task := op(func(res client.Result) { done <- res })

	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	go c.client.Scheduler().Run(runCtx, tickInterval)

	select {
	case res := <-done:
		return res
	case <-c.ctx.Done():
		task.Cancel()
		return &client.Failure{Message: "canceled", Err: c.ctx.Err()}
	}
}

// report prints res for command name and returns the exit code.
func (c *command) report(name string, toFile bool, res client.Result) int {
	f, failed := res.(*client.Failure)
	if failed {
		fmt.Fprintf(os.Stderr, "%s failed: %s\n", name, f.Message)
		return 1
	}
	s := res.(*client.Success)
	if !s.OK() {
		e := s.Err()
		fmt.Fprintf(os.Stderr, "%s: %s (%d): %s\n", name, e.Code, e.HTTPStatus, e.Message)
		return 1
	}

	switch name {
	case "ls":
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s.Listing); err != nil {
			fmt.Fprintf(os.Stderr, "encoding listing: %v\n", err)
			return 1
		}
	case "head":
		fmt.Fprintf(c.out, "%s %s\n", s.Response.Proto, s.Response.Status)
		names := make([]string, 0, len(s.Response.Header))
		for k := range s.Response.Header {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			for _, v := range s.Response.Header[k] {
				fmt.Fprintf(c.out, "%s: %s\n", k, v)
			}
		}
	case "get":
		if !toFile {
			c.out.Write(s.Response.Body)
		}
	}
	return 0
}
