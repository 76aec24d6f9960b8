package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sn3fru/silvanews-sub001/internal/admission"
	"github.com/sn3fru/silvanews-sub001/internal/announce"
	"github.com/sn3fru/silvanews-sub001/internal/config"
	"github.com/sn3fru/silvanews-sub001/internal/embed"
	"github.com/sn3fru/silvanews-sub001/internal/feedapi"
	"github.com/sn3fru/silvanews-sub001/internal/graph"
	"github.com/sn3fru/silvanews-sub001/internal/grouping"
	"github.com/sn3fru/silvanews-sub001/internal/history"
	"github.com/sn3fru/silvanews-sub001/internal/logging"
	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/oracle"
	"github.com/sn3fru/silvanews-sub001/internal/runner"
	"github.com/sn3fru/silvanews-sub001/internal/store"
	"github.com/sn3fru/silvanews-sub001/internal/triage"
)

func main() {
	configPath := flag.String("config", "", "path to config file (JSON)")
	once := flag.Bool("once", false, "run a single cycle and exit")
	inputPath := flag.String("input", "", "JSON file with documents to admit this cycle")
	noAPI := flag.Bool("no-api", false, "disable the HTTP feed API")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logging.Error("store open failed", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	aliases, err := config.LoadAliasTable(cfg.AliasFile)
	if err != nil {
		logging.Error("alias table load failed", "path", cfg.AliasFile, "error", err)
		os.Exit(1)
	}
	rules, err := config.LoadRuleTable(cfg.RulesFile)
	if err != nil {
		logging.Error("rule table load failed", "path", cfg.RulesFile, "error", err)
		os.Exit(1)
	}

	o := buildOracle(cfg)
	embedSvc := buildEmbedder(cfg)

	cache := admission.NewRecencyCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
		time.Duration(cfg.Pipeline.DedupWindowHours)*time.Hour)
	defer cache.Close()

	announcer, err := announce.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		logging.Error("announcer setup failed", "error", err)
		os.Exit(1)
	}
	defer announcer.Close()

	p := cfg.Pipeline
	gate := admission.NewGate(st, embedSvc, cache, p.DedupThreshold,
		time.Duration(p.DedupWindowHours)*time.Hour)
	grouper := grouping.NewEngine(st, o, p.CandidateFloor, p.CandidateK, p.GroupBatchSize, p.MaxFails)
	linker := graph.NewLinker(st, o, graph.NewResolver(st, aliases, p.TrigramThreshold))
	retriever := history.NewRetriever(st,
		time.Duration(p.GraphWindowDays)*24*time.Hour,
		time.Duration(p.VectorWindowDays)*24*time.Hour,
		p.CandidateFloor, p.CandidateK, p.ContextCharBudget)
	triager := triage.NewEngine(st, o, retriever, rules, p)

	run := runner.New(st, gate, grouper, linker, triager, announcer,
		time.Duration(p.MergeWindowDays)*24*time.Hour, p.EnrichParallelism)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reload curated tables on SIGHUP
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := aliases.Reload(); err != nil {
				logging.Warn("alias table reload failed", "error", err)
			}
			if err := rules.Reload(); err != nil {
				logging.Warn("rule table reload failed", "error", err)
			}
			logging.Info("curated tables reloaded")
		}
	}()

	if !*noAPI {
		api := feedapi.New(st, gate, cfg.API.Addr)
		go func() {
			if err := api.Start(); err != nil {
				logging.Error("feed api failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			api.Shutdown(shutdownCtx)
		}()
	}

	batch, err := loadInput(*inputPath)
	if err != nil {
		logging.Error("input load failed", "path", *inputPath, "error", err)
		os.Exit(1)
	}

	if *once {
		if _, err := run.RunOnce(ctx, batch); err != nil {
			logging.Error("cycle failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Periodic mode: the input batch (if any) feeds the first cycle,
	// later cycles pick up documents posted to the API.
	interval := cfg.RunInterval()
	logging.Info("periodic mode", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := run.RunOnce(ctx, batch); err != nil {
		logging.Error("cycle failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			logging.Info("shutting down")
			return
		case <-ticker.C:
			if _, err := run.RunOnce(ctx, nil); err != nil {
				logging.Error("cycle failed", "error", err)
			}
		}
	}
}

func buildOracle(cfg *config.Config) *oracle.Oracle {
	pm := oracle.NewProviderManager()
	if cfg.Oracle.APIKey != "" {
		pm.AddProvider(oracle.NewHTTPProvider("openai", cfg.Oracle.Endpoint, cfg.Oracle.APIKey, cfg.Oracle.Model))
	} else {
		logging.Warn("no oracle key configured, running on deterministic fallbacks only")
	}
	return oracle.New(pm)
}

func buildEmbedder(cfg *config.Config) *embed.Service {
	switch cfg.Embed.Provider {
	case "cohere":
		if cfg.Embed.APIKey != "" {
			return embed.NewService(embed.NewCohereEmbedder(cfg.Embed.APIKey, cfg.Embed.Model))
		}
	case "http":
		if cfg.Embed.Endpoint != "" {
			return embed.NewService(embed.NewHTTPEmbedder(cfg.Embed.Endpoint, cfg.Embed.APIKey, cfg.Embed.Model))
		}
	}
	return embed.NewService(nil)
}

type inputDoc struct {
	Title      string `json:"title"`
	Text       string `json:"text"`
	SourceType string `json:"source_type"`
}

func loadInput(path string) ([]admission.Incoming, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var docs []inputDoc
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	batch := make([]admission.Incoming, 0, len(docs))
	for _, d := range docs {
		st := model.SourceType(d.SourceType)
		if st != model.SourceDomestic && st != model.SourceInternational {
			return nil, fmt.Errorf("document %q: bad source_type %q", d.Title, d.SourceType)
		}
		batch = append(batch, admission.Incoming{Title: d.Title, Text: d.Text, SourceType: st})
	}
	return batch, nil
}
