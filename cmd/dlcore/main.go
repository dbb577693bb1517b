package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"dlcore/config"
	"dlcore/event"
	"dlcore/httpclient"
	"dlcore/job"
	"dlcore/scheduler"
	"dlcore/store"
	"dlcore/task"
	"dlcore/utils"
)

const VERSION = "0.1.0"

var CLI struct {
	Download struct {
		URL  []string `arg:"" help:"One or more resource URLs to download as a single job."`
		Dest string   `help:"Destination directory for assembled files." default:"."`
	} `cmd:"" help:"Download one or more resources as a job."`
	Resume struct {
		URL string `arg:"" help:"URL of a download previously left in error or paused."`
	} `cmd:"" help:"Resume a single download from its persisted chunk-store state."`
	Cancel struct {
		URL string `arg:"" help:"URL to cancel and purge from the chunk store."`
	} `cmd:"" help:"Cancel an in-progress or errored download and purge its state."`
	Status struct{} `cmd:"" help:"List every in-flight download recorded in the chunk store."`
}

var mainDB *store.Database

func main() {
	initLogging()
	defer shutdownLogging()

	if err := os.MkdirAll(config.Main.StorageDir, os.ModePerm); err != nil {
		log.Fatal().Err(err).Str("path", config.Main.StorageDir).Msg("failed to create storage directory")
	}

	db, err := store.Open(config.Main.DB.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open chunk store")
	}
	mainDB = db
	defer mainDB.Close()

	ctx := kong.Parse(&CLI)
	switch {
	case strings.HasPrefix(ctx.Command(), "download"):
		runDownload(CLI.Download.URL, CLI.Download.Dest)
	case strings.HasPrefix(ctx.Command(), "resume"):
		runResume(CLI.Resume.URL)
	case strings.HasPrefix(ctx.Command(), "cancel"):
		runCancel(CLI.Cancel.URL)
	case strings.HasPrefix(ctx.Command(), "status"):
		runStatus()
	default:
		ctx.PrintUsage(false)
	}
}

func runDownload(urls []string, dest string) {
	hc := httpclient.New()
	tasks := make([]*task.Task, 0, len(urls))
	for _, u := range urls {
		filename := filepath.Join(dest, filepath.Base(u))
		tasks = append(tasks, task.New(u, filename, mainDB, hc))
	}

	j := job.New(tasks)
	sch := scheduler.New(config.Main.Concurrency)

	j.Events.On(event.Complete, func(any) {})
	j.Events.On(event.Progress, func(payload any) {
		p, ok := payload.(event.JobProgressPayload)
		if !ok {
			return
		}
		fmt.Printf("\r%s / %s (%.1f%%)", utils.FormatBytes(p.Loaded), utils.FormatBytes(p.Total), p.Percent)
	})
	j.Events.On(event.TaskError, func(payload any) {
		p, ok := payload.(event.TaskErrorPayload)
		if ok {
			log.Error().Str("url", p.URL).Err(p.Err).Msg("task failed")
		}
	})

	sigCh := make(chan os.Signal, 1)
	stopped := make(chan struct{})
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nstopping, pausing in-flight downloads...")
		sch.Pause()
		close(stopped)
	}()

	for _, t := range j.Tasks() {
		sch.Add(t)
	}
	sch.Start()

	for !j.Done() {
		select {
		case <-stopped:
			fmt.Println()
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	fmt.Println()
}

func runResume(url string) {
	hc := httpclient.New()
	meta, err := mainDB.GetMetadata(url)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read chunk store")
	}
	if meta == nil {
		log.Fatal().Str("url", url).Msg("no persisted download found for this url")
	}

	tk := task.New(url, meta.Filename, mainDB, hc)
	var done bool
	tk.Events.On(event.Complete, func(any) { done = true })
	tk.Events.On(event.Error, func(any) { done = true })

	if err := tk.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start task")
	}
	for !done {
		time.Sleep(100 * time.Millisecond)
	}
}

func runCancel(url string) {
	if err := mainDB.DeleteChunks(url); err != nil {
		log.Fatal().Err(err).Msg("failed to purge chunks")
	}
	if err := mainDB.DeleteMetadata(url); err != nil {
		log.Fatal().Err(err).Msg("failed to purge metadata")
	}
	fmt.Println("canceled and purged", url)
}

func runStatus() {
	metas, err := mainDB.ListMetadata()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read chunk store")
	}
	if len(metas) == 0 {
		fmt.Println("no in-flight downloads")
		return
	}
	for _, m := range metas {
		fmt.Printf("%s  %s / %s  resume=%v\n", m.URL, utils.FormatBytes(m.DownloadedBytes), utils.FormatBytes(m.TotalBytes), m.SupportsResume)
	}
}
