// Command stockbit-crawl manages Historical Crawl Engine backfill jobs: it
// creates jobs, runs the scheduler loop, and reports progress. One process
// per job store -- there is no cross-instance coordination.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"stockbit-capture/internal/bus"
	"stockbit-capture/internal/config"
	"stockbit-capture/internal/crawl"
	"stockbit-capture/internal/logger"
	"stockbit-capture/internal/rest"
	"stockbit-capture/internal/token"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg := config.Load()
	logger.Setup(filepath.Join(cfg.ConfigDir, "crawl.log"), cfg.MaxLogSizeMB, cfg.MaxLogBackups)

	store := token.NewStore(filepath.Join(cfg.ConfigDir, "token.json"))
	fetcher := rest.New(cfg.APIBase+"/order-trade/running-trade", store)
	eventBus := bus.New()
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		tg := bus.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatID)
		eventBus.Subscribe(tg.Sink())
	}
	eventBus.Subscribe(func(e bus.Event) {
		log.Printf("crawl: event %s %v", e.Name, e.Payload)
	})

	engine, err := crawl.New(fetcher, filepath.Join(cfg.ConfigDir, "jobs.json"), cfg.CrawlDir, eventBus, cfg.DefaultRetryCount)
	if err != nil {
		log.Fatalf("crawl: could not start engine: %v", err)
	}

	switch os.Args[1] {
	case "create":
		cmdCreate(engine, cfg, os.Args[2:])
	case "list":
		cmdList(engine, os.Args[2:])
	case "status":
		cmdStatus(engine, os.Args[2:])
	case "pause":
		cmdPause(engine, os.Args[2:])
	case "cancel":
		cmdCancel(engine, os.Args[2:])
	case "resume-all":
		cmdResumeAll(engine)
	case "run":
		cmdRun(engine)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: stockbit-crawl <command> [flags]

commands:
  create     --tickers=BBCA,TLKM --from=2025-01-01 --until=2025-01-05 [--delay=3] [--limit=50] [--workers=1]
  list       [--format=text|yaml]
  status     <job-id>
  pause      <job-id>
  cancel     <job-id>
  resume-all
  run        start the scheduler loop and block until signaled`)
}

func cmdCreate(engine *crawl.Engine, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	tickers := fs.String("tickers", "", "comma-separated ticker symbols")
	from := fs.String("from", "", "from date, YYYY-MM-DD")
	until := fs.String("until", "", "until date, YYYY-MM-DD")
	delay := fs.Float64("delay", cfg.DefaultDelaySeconds, "seconds between page requests")
	limit := fs.Int("limit", cfg.DefaultPageLimit, "records per page")
	workers := fs.Int("workers", 1, "parallel workers, 1-10")
	fs.Parse(args)

	if *tickers == "" || *from == "" || *until == "" {
		fmt.Fprintln(os.Stderr, "create requires --tickers, --from, --until")
		os.Exit(1)
	}

	tickerList := strings.Split(strings.ToUpper(*tickers), ",")
	jobID, err := engine.CreateJob(tickerList, *from, *until, *delay, *limit, *workers)
	if err != nil {
		log.Fatalf("create job: %v", err)
	}
	fmt.Println(jobID)
}

func cmdList(engine *crawl.Engine, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	format := fs.String("format", "text", "output format: text or yaml")
	fs.Parse(args)

	jobs := engine.ListJobs()
	if *format == "yaml" {
		out, err := yaml.Marshal(jobs)
		if err != nil {
			log.Fatalf("marshal yaml: %v", err)
		}
		fmt.Print(string(out))
		return
	}
	for _, job := range jobs {
		progress := job.GetProgress()
		fmt.Printf("%s  %-10s  %v  %d/%d tasks  %d records\n",
			job.JobID, job.Status, job.Tickers, progress.CompletedTasks, progress.TotalTasks, progress.TotalRecords)
	}
}

func cmdStatus(engine *crawl.Engine, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "status requires a job id")
		os.Exit(1)
	}
	job, ok := engine.GetJob(args[0])
	if !ok {
		log.Fatalf("job %s not found", args[0])
	}
	out, _ := yaml.Marshal(job)
	fmt.Print(string(out))
}

func cmdPause(engine *crawl.Engine, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "pause requires a job id")
		os.Exit(1)
	}
	engine.PauseJob(args[0])
	fmt.Printf("pause requested for %s\n", args[0])
}

func cmdCancel(engine *crawl.Engine, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "cancel requires a job id")
		os.Exit(1)
	}
	if err := engine.CancelJob(args[0]); err != nil {
		log.Fatalf("cancel job: %v", err)
	}
	fmt.Printf("job %s cancelled\n", args[0])
}

func cmdResumeAll(engine *crawl.Engine) {
	n, err := engine.AutoResumePausedJobs()
	if err != nil {
		log.Fatalf("resume jobs: %v", err)
	}
	fmt.Printf("resumed %d job(s)\n", n)
}

func cmdRun(engine *crawl.Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)
	log.Println("crawl: scheduler running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Println("crawl: shutdown signal received")
	cancel()
	engine.Stop()
}
