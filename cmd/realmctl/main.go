// Command realmctl talks to realmd services: it logs in, lists realms and
// drives a world server the way a game client or an operator would.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/l1jgo/realmd/internal/cache"
	"github.com/l1jgo/realmd/internal/client"
	"github.com/l1jgo/realmd/internal/realm"
)

const usage = `usage: realmctl <command> [flags]

commands:
  login      authenticate against the login service
  realms     authenticate and print the realm list
  cache      print the realm list the login service publishes to Redis
  ping       handshake with a world server and measure round trips
  set-state  change a world server's advertised state
  players    list the players connected to a world server
  shutdown   ask a world server to go Offline and exit
  monitor    stream a world server's connect/disconnect notifications
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "realmctl: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("unknown command")

func run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login", "realms":
		return runLogin(ctx, cmd, args)
	case "cache":
		return runCache(ctx, args)
	case "ping":
		return runPing(ctx, args)
	case "set-state":
		return runSetState(ctx, args)
	case "players":
		return runPlayers(ctx, args)
	case "shutdown":
		return runShutdown(ctx, args)
	case "monitor":
		return runMonitor(ctx, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("%w %q", errUsage, cmd)
	}
}

type worldFlags struct {
	addr    string
	user    string
	timeout time.Duration
}

func newWorldFlags(name string) (*flag.FlagSet, *worldFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	wf := &worldFlags{}
	fs.StringVar(&wf.addr, "addr", "127.0.0.1:15001", "world server address")
	fs.StringVar(&wf.user, "user", "realmctl", "user id sent in the handshake")
	fs.DurationVar(&wf.timeout, "timeout", client.DefaultTimeout, "per-request timeout")
	return fs, wf
}

// connectWorld dials and handshakes, printing the greeting.
func connectWorld(ctx context.Context, wf *worldFlags) (*client.Client, error) {
	c, err := client.Dial(ctx, wf.addr, wf.timeout)
	if err != nil {
		return nil, err
	}
	greeting, err := c.Handshake(wf.user)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	fmt.Println(greeting)
	return c, nil
}

func runLogin(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:14002", "login service address")
	user := fs.String("user", "", "account name")
	pass := fs.String("pass", "", "password")
	timeout := fs.Duration("timeout", client.DefaultTimeout, "per-request timeout")
	fs.Parse(args)

	if *user == "" {
		return errors.New("-user is required")
	}

	c, err := client.Dial(ctx, *addr, *timeout)
	if err != nil {
		return err
	}
	defer c.Close()

	ok, err := c.Login(*user, *pass)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("FAIL")
		return errors.New("login rejected")
	}
	fmt.Println("OK")
	if cmd == "login" {
		return nil
	}

	worlds, err := c.RealmList()
	if err != nil {
		return err
	}
	printRealms(worlds)
	return nil
}

func printRealms(worlds []realm.WorldDescriptor) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tSTATE\tUSERS\tLOAD")
	for _, w := range worlds {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d/%d\t%.0f%%\n",
			w.ID, w.Name, w.Address(), w.State, w.CurrentUsers, w.MaxUsers, w.UsagePercent())
	}
	tw.Flush()
}

func runCache(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	addr := fs.String("redis", "localhost:6379", "redis address")
	password := fs.String("password", "", "redis password")
	db := fs.Int("db", 0, "redis database")
	timeout := fs.Duration("timeout", client.DefaultTimeout, "request timeout")
	fs.Parse(args)

	rc := cache.NewRedisCache(cache.Options{Addr: *addr, Password: *password, DB: *db})
	defer rc.Close()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	worlds, err := rc.GetWorlds(ctx)
	if err != nil {
		return err
	}
	printRealms(worlds)
	return nil
}

func runPing(ctx context.Context, args []string) error {
	fs, wf := newWorldFlags("ping")
	count := fs.Int("count", 3, "number of pings")
	fs.Parse(args)

	c, err := connectWorld(ctx, wf)
	if err != nil {
		return err
	}
	defer c.Close()

	for i := 0; i < *count; i++ {
		rtt, err := c.Ping()
		if err != nil {
			return err
		}
		fmt.Printf("pong from %s: time=%s\n", wf.addr, rtt.Round(time.Microsecond))
	}
	return c.Disconnect()
}

func runSetState(ctx context.Context, args []string) error {
	fs, wf := newWorldFlags("set-state")
	stateArg := fs.String("state", "", "Offline, Closed or Available")
	fs.Parse(args)

	st, err := realm.ParseWorldState(*stateArg)
	if err != nil {
		return err
	}

	c, err := connectWorld(ctx, wf)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.SetState(st); err != nil {
		return err
	}
	// SetState has no reply; a ping confirms it was processed.
	if _, err := c.Ping(); err != nil {
		return err
	}
	fmt.Printf("state set to %s\n", st)
	return c.Disconnect()
}

func runPlayers(ctx context.Context, args []string) error {
	fs, wf := newWorldFlags("players")
	fs.Parse(args)

	c, err := connectWorld(ctx, wf)
	if err != nil {
		return err
	}
	defer c.Close()

	players, err := c.QueryPlayers()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tUSER\tX\tY\tZ")
	for _, p := range players {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%.2f\n", p.SessionID, p.UserID, p.Position.X, p.Position.Y, p.Position.Z)
	}
	tw.Flush()
	return c.Disconnect()
}

func runShutdown(ctx context.Context, args []string) error {
	fs, wf := newWorldFlags("shutdown")
	fs.Parse(args)

	c, err := connectWorld(ctx, wf)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Shutdown(); err != nil {
		return err
	}
	fmt.Println("shutdown requested")
	return nil
}

func runMonitor(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:15002", "world monitor address (world port + 1)")
	fs.Parse(args)

	return client.WatchMonitor(ctx, *addr, func(line string) {
		fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), line)
	})
}
