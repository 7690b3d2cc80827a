package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pigeonhole-chat/pigeonhole/auth"
	"github.com/pigeonhole-chat/pigeonhole/chat"
	"github.com/pigeonhole-chat/pigeonhole/rest"
	"github.com/pigeonhole-chat/pigeonhole/store"
	"github.com/pigeonhole-chat/pigeonhole/ws"
)

var (
	flagAddr     = flag.String("addr", "127.0.0.1:8000", "server address, ip:port")
	flagPidFile  = flag.String("pid-file", "pigeonhole.pid", "pid file")
	flagDBDriver = flag.String("db-driver", store.DriverSQLite, "database driver, mysql or sqlite3")
	flagDBDsn    = flag.String("db-dsn", "pigeonhole.db?_foreign_keys=1&_journal_mode=WAL",
		"database dsn; for mysql e.g. root:@tcp(127.0.0.1:3306)/pigeonhole?charset=utf8mb4")

	flagJWTSecret = flag.String("jwt-secret", "",
		"HMAC secret for verified connect-time identity; empty keeps the trusted client-supplied identity")

	flagEnableWsSend = flag.Bool("enable-ws-send", false, "allow clients to send chat messages over the websocket")

	flagPprofDir       = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
)

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		_ = os.RemoveAll(pprofDir)
	}()

	db, err := sql.Open(*flagDBDriver, *flagDBDsn)
	if err != nil {
		return errorf("sql.Open error, dsn: %s, err: %v", *flagDBDsn, err)
	}
	defer db.Close()

	if *flagDBDriver == store.DriverMySQL {
		db.SetConnMaxLifetime(time.Minute * 3)
		db.SetMaxOpenConns(100)
		db.SetMaxIdleConns(1)
	} else {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	glog.Info("pigeonhole server is starting")

	st, err := store.NewSQL(db, *flagDBDriver)
	if err != nil {
		return errorf("store: %v", err)
	}
	if err := st.InitSchema(context.Background()); err != nil {
		return errorf("store: %v", err)
	}

	registry := ws.NewRegistry()
	router := ws.NewRouter(registry)

	messages, err := chat.NewMessages(context.Background(), st, router)
	if err != nil {
		return errorf("messages: %v", err)
	}
	friends := chat.NewFriends(st, router)

	hub := ws.NewHub(newAuthClient(), registry, messages, *flagEnableWsSend)

	mux := http.NewServeMux()
	if !*flagDisableMetrics {
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}
	mux.Handle("/ws", hub)
	rest.NewServer(newAuthClient(), friends, messages).Register(mux)

	lis, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		return errorf("listen %s error: %v", *flagAddr, err)
	}
	httpServer := &http.Server{Handler: mux}

	go func() {
		glog.Infof("http server is listening %v", *flagAddr)
		if err := httpServer.Serve(lis); errors.Is(err, http.ErrServerClosed) {
			glog.Infof("http server closed")
		} else if err != nil {
			glog.Errorf("error serve http mux server: %v", err)
		}
	}()

	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	var stopping bool
	stopNotifyChan := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var prof *Profiler

	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			dumpGoroutines(pprofDir)
		case syscall.SIGUSR2:
			if prof == nil {
				prof = StartProfiler(pprofDir)
			} else {
				prof.Stop()
				prof = nil
			}
		case syscall.SIGTERM, syscall.SIGINT:
			if stopping {
				glog.Infof("pigeonhole server is already in stop")
				continue
			}
			stopping = true
			glog.Infof("received signal `%s`, stopping", sig.String())
			go func() {
				if prof != nil {
					prof.Stop()
				}
				_ = httpServer.Shutdown(context.Background())
				hub.Close()
				stopNotifyChan <- struct{}{}
				signal.Stop(sigCh)
				close(sigCh)
			}()
		}
	}

	<-stopNotifyChan
	glog.Info("pigeonhole server exited")
	return 0
}

func newAuthClient() auth.Client {
	if *flagJWTSecret != "" {
		return &auth.JWTClient{Secret: []byte(*flagJWTSecret)}
	}
	// Connect-time identity stays a client-supplied identifier unless a JWT
	// secret is configured; see the auth package.
	return &auth.MockClient{}
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}
	if *flagDBDriver != store.DriverMySQL && *flagDBDriver != store.DriverSQLite {
		return errorf("--db-driver MUST be %s or %s", store.DriverMySQL, store.DriverSQLite)
	}
	if *flagDBDsn == "" {
		return errorf("--db-dsn is required")
	}
	return 0
}

func validateAddr(s string) error {
	ips, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	ip := net.ParseIP(ips)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", ips)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsUnspecified() {
		return fmt.Errorf("`%s` is not loopback, private or unspecified address", ips)
	}
	return nil
}

func errorf(format string, args ...interface{}) int {
	glog.Errorf(format, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		content, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(string(content))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			}
			glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	glog.Infof("pid file: write pid done")
	return nil
}
