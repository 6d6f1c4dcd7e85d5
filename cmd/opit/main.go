package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/opifices/opit/internal/jsonutil"
	"github.com/opifices/opit/internal/logger"
	"github.com/opifices/opit/internal/metainfo"
	"github.com/opifices/opit/internal/rpcclient"
	"github.com/opifices/opit/internal/simswarm"
	"github.com/opifices/opit/internal/statsdb"
	"github.com/opifices/opit/session"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

const defaultConfig = "~/.opit.yaml"

var (
	app = cli.NewApp()
	log = logger.New("opit")

	cfg    *session.Config
	simCfg *simswarm.Config
	client *rpcclient.Client
)

func main() {
	app.Name = "opit"
	app.Usage = "Adaptive piece request scheduler"
	app.Version = session.Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "read config from `FILE`",
			Value: defaultConfig,
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug log",
		},
	}
	app.Before = handleBeforeCommand
	urlFlag := cli.StringFlag{
		Name:  "url",
		Usage: "URL of RPC server, taken from config file if not given",
	}
	app.Commands = []cli.Command{
		{
			Name:   "simulate",
			Usage:  "run a download session against a simulated swarm",
			Action: handleSimulate,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "torrent, t",
					Usage: "take name and piece layout from torrent `FILE`",
				},
				cli.IntFlag{
					Name:  "pieces",
					Usage: "number of pieces",
				},
				cli.IntFlag{
					Name:  "peers",
					Usage: "number of peers at start",
				},
				cli.IntFlag{
					Name:  "seeders",
					Usage: "number of seeders at start",
				},
				cli.Float64Flag{
					Name:  "loss-rate",
					Usage: "probability of a request getting lost",
				},
				cli.Int64Flag{
					Name:  "seed",
					Usage: "seed of random source",
				},
				cli.StringFlag{
					Name:  "script",
					Usage: "advisor script `FILE`",
				},
				cli.BoolFlag{
					Name:  "aggressive",
					Usage: "start in aggressive mode",
				},
				cli.BoolFlag{
					Name:  "no-progress",
					Usage: "do not show progress bar",
				},
			},
		},
		{
			Name:   "status",
			Usage:  "show status of running session",
			Before: handleBeforeClient,
			After:  handleAfterClient,
			Action: handleStatus,
			Flags: []cli.Flag{
				urlFlag,
				cli.BoolFlag{
					Name:  "scheduler, s",
					Usage: "show scheduler statistics",
				},
			},
		},
		{
			Name:   "requests",
			Usage:  "list pieces that are requested from swarm",
			Before: handleBeforeClient,
			After:  handleAfterClient,
			Action: handleRequests,
			Flags: []cli.Flag{
				urlFlag,
				cli.IntFlag{
					Name:  "limit",
					Usage: "max number of requests to show, zero shows all",
				},
			},
		},
		{
			Name:      "aggressive",
			Usage:     "turn aggressive mode on or off",
			ArgsUsage: "[on|off]",
			Before:    handleBeforeClient,
			After:     handleAfterClient,
			Action:    handleAggressive,
			Flags:     []cli.Flag{urlFlag},
		},
		{
			Name:   "history",
			Usage:  "list statistics of previous sessions",
			Action: handleHistory,
		},
		{
			Name:   "version",
			Usage:  "print client and server versions",
			Before: handleBeforeClient,
			After:  handleAfterClient,
			Action: handleVersion,
			Flags:  []cli.Flag{urlFlag},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func handleBeforeCommand(c *cli.Context) error {
	logger.SetDebug(c.GlobalBool("debug"))
	configPath, err := homedir.Expand(c.GlobalString("config"))
	if err != nil {
		return err
	}
	cfg, err = session.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("cannot load config: %w", err)
	}
	simCfg, err = loadSimulationConfig(configPath)
	if err != nil {
		return fmt.Errorf("cannot load simulation config: %w", err)
	}
	return nil
}

func handleBeforeClient(c *cli.Context) error {
	url := c.String("url")
	if url == "" {
		url = "http://" + net.JoinHostPort(cfg.RPCHost, strconv.Itoa(cfg.RPCPort))
	}
	client = rpcclient.New(url)
	return nil
}

func handleAfterClient(c *cli.Context) error {
	if client == nil {
		return nil
	}
	return client.Close()
}

func handleSimulate(c *cli.Context) error {
	sc := *simCfg
	if path := c.String("torrent"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		mi, err := metainfo.New(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("cannot read torrent: %w", err)
		}
		sc.Name = mi.Info.Name
		sc.NumPieces = mi.Info.NumPieces
		sc.PieceLength = mi.Info.PieceLength
		sc.TotalLength = mi.Info.TotalLength
		log.Infof("simulating %q (info hash %x) with %d pieces", sc.Name, mi.Info.Hash, sc.NumPieces)
	}
	if c.IsSet("pieces") {
		sc.NumPieces = uint32(c.Int("pieces"))
		sc.TotalLength = 0
	}
	if c.IsSet("peers") {
		sc.Peers = c.Int("peers")
	}
	if c.IsSet("seeders") {
		sc.Seeders = c.Int("seeders")
	}
	if c.IsSet("loss-rate") {
		sc.LossRate = c.Float64("loss-rate")
	}
	if c.IsSet("seed") {
		sc.Seed = c.Int64("seed")
	}
	sessionCfg := *cfg
	if c.IsSet("script") {
		sessionCfg.AdvisorScript = c.String("script")
	}
	if c.Bool("aggressive") {
		sessionCfg.Scheduler.StartAggressive = true
	}

	swarm, err := simswarm.New(sc)
	if err != nil {
		return err
	}
	defer swarm.Close()
	ses, err := session.New(sessionCfg, swarm)
	if err != nil {
		return err
	}

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigC)

	var p *mpb.Progress
	var bar *mpb.Bar
	if !c.Bool("no-progress") {
		p, bar = newProgressBar(ses, sc)
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	interrupted := false
loop:
	for {
		select {
		case <-ticker.C:
			if bar != nil {
				bar.SetCurrent(int64(ses.Status().PiecesComplete))
			}
		case <-ses.Done():
			break loop
		case s := <-sigC:
			log.Infof("received %s, stopping session", s)
			interrupted = true
			break loop
		}
	}
	if bar != nil {
		if interrupted {
			bar.Abort(false)
		} else {
			bar.SetCurrent(int64(sc.NumPieces))
		}
		p.Wait()
	}
	err = ses.Close()
	if err != nil {
		return err
	}
	st := ses.Status()
	b, err := jsonutil.MarshalCompactPretty(st)
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(b)
	return nil
}

func newProgressBar(ses *session.Session, sc simswarm.Config) (*mpb.Progress, *mpb.Bar) {
	p := mpb.New(mpb.WithWidth(64), mpb.WithRefreshRate(100*time.Millisecond))
	barStyle := mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟")
	bar := p.New(int64(sc.NumPieces),
		barStyle,
		mpb.PrependDecorators(
			decor.Name(sc.Name, decor.WC{W: len(sc.Name) + 1, C: decor.DindentRight}),
			decor.CountersNoUnit("%d / %d", decor.WC{W: 14}),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.Any(func(decor.Statistics) string {
				st := ses.Status()
				return fmt.Sprintf(" %s | %d peers, %d seeders | ETA %s", st.Mode, st.Peers, st.Seeders, st.ETA)
			}),
		),
	)
	return p, bar
}

func handleStatus(c *cli.Context) error {
	var v any
	var err error
	if c.Bool("scheduler") {
		v, err = client.GetSchedulerStats()
	} else {
		v, err = client.GetStatus()
	}
	if err != nil {
		return err
	}
	b, err := jsonutil.MarshalCompactPretty(v)
	if err != nil {
		return err
	}
	_, _ = os.Stdout.Write(b)
	return nil
}

func handleRequests(c *cli.Context) error {
	requests, err := client.GetActiveRequests(c.Int("limit"))
	if err != nil {
		return err
	}
	for _, r := range requests {
		fmt.Printf("#%d requested %s ago\n", r.Index, time.Since(r.RequestedAt.Time).Round(time.Second))
	}
	return nil
}

func handleAggressive(c *cli.Context) error {
	switch c.Args().First() {
	case "":
		resp, err := client.IsAggressive()
		if err != nil {
			return err
		}
		fmt.Printf("aggressive: %v (mode: %s)\n", resp.Aggressive, resp.Mode)
		return nil
	case "on", "off":
		resp, err := client.SetAggressive(c.Args().First() == "on")
		if err != nil {
			return err
		}
		fmt.Printf("aggressive: %v (mode: %s)\n", resp.Aggressive, resp.Mode)
		return nil
	default:
		return errors.New("argument must be \"on\" or \"off\"")
	}
}

func handleHistory(c *cli.Context) error {
	if cfg.Database == "" {
		return errors.New("database is not set in config")
	}
	path, err := homedir.Expand(cfg.Database)
	if err != nil {
		return err
	}
	db, err := statsdb.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	records, err := db.List()
	if err != nil {
		return err
	}
	for i := range records {
		b, err := jsonutil.MarshalCompactPretty(&records[i])
		if err != nil {
			return err
		}
		_, _ = os.Stdout.Write(b)
		fmt.Println()
	}
	return nil
}

func handleVersion(c *cli.Context) error {
	fmt.Println("client:", session.Version)
	v, err := client.ServerVersion()
	if err != nil {
		fmt.Println("server: not running")
		return nil
	}
	fmt.Println("server:", v)
	return nil
}
