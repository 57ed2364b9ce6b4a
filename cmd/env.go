package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/clearslip/clearslip/internal/bank"
	"github.com/clearslip/clearslip/internal/ocr"
	"github.com/clearslip/clearslip/internal/pattern"
	"github.com/clearslip/clearslip/internal/store"
	"github.com/clearslip/clearslip/internal/verify"
)

// env holds the wired components shared by subcommands.
type env struct {
	Store    store.Store
	Registry *bank.Registry
	Patterns *pattern.Service
	Engine   *verify.Engine
}

func (e *env) Close() {
	e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "clearslip.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initRegistry() (*bank.Registry, error) {
	catalog := bank.DefaultCatalog()
	if cfg.Templates.CatalogPath != "" {
		c, err := bank.LoadCatalog(cfg.Templates.CatalogPath)
		if err != nil {
			return nil, err
		}
		catalog = c
	}
	return bank.NewRegistry(catalog)
}

func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	registry, err := initRegistry()
	if err != nil {
		st.Close()
		return nil, err
	}

	extractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		st.Close()
		return nil, err
	}

	patterns := pattern.NewService(st, cfg.Verification)
	engine := verify.NewEngine(st, registry, patterns, cfg.Verification).WithExtractor(extractor)

	return &env{
		Store:    st,
		Registry: registry,
		Patterns: patterns,
		Engine:   engine,
	}, nil
}
