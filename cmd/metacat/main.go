package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/Cdaprod/cda.data-lake/internal/config"
	"github.com/Cdaprod/cda.data-lake/internal/gitclient"
	"github.com/Cdaprod/cda.data-lake/internal/ingest"
	"github.com/Cdaprod/cda.data-lake/internal/objstore"
	"github.com/Cdaprod/cda.data-lake/internal/repo"
	"github.com/Cdaprod/cda.data-lake/internal/schedule"
	"github.com/Cdaprod/cda.data-lake/internal/store"
	"github.com/Cdaprod/cda.data-lake/internal/web"
	"github.com/peterbourgon/ff/v3"
)

var (
	// Version is the application version.
	// It is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
)

func gitClientAuthFromEnv() *gitclient.Auth {
	user := os.Getenv("METACAT_GIT_USER")
	if user == "" {
		return nil
	}
	pass := os.Getenv("METACAT_GIT_PASSWORD")
	return &gitclient.Auth{
		Username: user,
		Password: pass,
	}
}

// Options contains program options that can be set via command-line flags or environment variables.
type Options struct {
	Addr       string
	RootDir    string
	GitURL     string
	GitRef     string
	GitRootDir string
	BadgerDir  string
	Snapshot   string
	ConfigFile string
	ReadOnly   bool
	Schedule   bool
	Embeddings string
}

func (o *Options) addStoreFlags(fs *flag.FlagSet) {
	fs.StringVar(&o.RootDir, "root-dir", ".", "Root directory of the local data store")
	fs.StringVar(&o.GitURL, "git-url", "", "URL of a git repository to read the catalog from (read-only)")
	fs.StringVar(&o.GitRef, "git-ref", "main", "Git ref (branch or tag) to read from")
	fs.StringVar(&o.GitRootDir, "git-root-dir", "", "Directory within the git repository that acts as the store root")
	fs.StringVar(&o.BadgerDir, "badger-dir", "", "Directory of a Badger database to use as the data store")
	fs.StringVar(&o.Snapshot, "snapshot", "catalog.json", "Path of the catalog snapshot within the store (.json, .jsonc, .yaml or .yml)")
	fs.StringVar(&o.ConfigFile, "config", "metacat.yml", "Path of the configuration YAML file within the store")
}

func parseFlags(fs *flag.FlagSet, args []string) {
	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("METACAT")); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(os.Args) >= 2 && !strings.HasPrefix(os.Args[1], "-") {
		cmd, args = os.Args[1], os.Args[2:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "validate":
		err = runValidate(args)
	case "init":
		err = runInit(args)
	case "ingest":
		err = runIngest(args)
	case "snapshots":
		err = runSnapshots(args)
	case "version":
		fmt.Println(Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q. Available commands: serve, validate, init, ingest, snapshots, version\n", cmd)
		os.Exit(1)
	}
	// Subcommands must return errors rather than exit, so their deferred
	// cleanup (closing the store, stopping the scheduler) runs.
	if err != nil {
		log.Fatal(err)
	}
}

// openStore returns the store holding configuration and snapshot, and a
// close function. Stores backed by git are read-only.
func openStore(opts Options) (store.Store, func() error, error) {
	noop := func() error { return nil }
	switch {
	case opts.GitURL != "":
		log.Printf("Retrieving catalog from git URL %s", opts.GitURL)
		client, err := gitclient.New(opts.GitURL, gitClientAuthFromEnv())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to retrieve git repo: %v", err)
		}
		src := store.NewGitSource(client, opts.GitRef, opts.GitRootDir)
		st, err := src.Store("")
		if err != nil {
			return nil, nil, fmt.Errorf("cannot use git ref %q: %v", opts.GitRef, err)
		}
		return st, noop, nil
	case opts.BadgerDir != "":
		log.Printf("Using badger store at %s", opts.BadgerDir)
		bs, err := store.OpenBadgerStore(opts.BadgerDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger store: %v", err)
		}
		return bs, bs.Close, nil
	case opts.RootDir != "":
		log.Printf("Using local store at %s", opts.RootDir)
		return store.NewDiskStore(opts.RootDir), noop, nil
	}
	return nil, nil, fmt.Errorf("none of -root-dir, -badger-dir or -git-url specified")
}

func closeOnReturn(closeStore func() error) {
	if err := closeStore(); err != nil {
		log.Printf("Failed to close store: %v", err)
	}
}

// loadConfig reads the configuration bundle. A missing file yields the defaults.
func loadConfig(st store.Store, path string) (*config.Bundle, error) {
	bundle, err := config.Load(st, path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("No configuration file %s, using defaults", path)
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return bundle, nil
}

// loadCatalog reads the snapshot. A missing snapshot yields an empty catalog.
func loadCatalog(st store.Store, bundle *config.Bundle, path string) (*repo.Repository, error) {
	r, err := repo.Load(st, bundle.Catalog, path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("No catalog snapshot %s, starting with an empty catalog", path)
		return repo.NewRepositoryWithConfig(bundle.Catalog), nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not load catalog: %w", err)
	}
	log.Printf("Read %d entities from catalog", r.Size())
	return r, nil
}

// loadEmbeddings reads the vector index saved by the server.
// A missing file yields an empty index.
func loadEmbeddings(st store.Store, path string) (*objstore.MemoryIndex, error) {
	index := objstore.NewMemoryIndex()
	data, err := st.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read embeddings %s: %w", path, err)
	}
	if err := json.Unmarshal(data, index); err != nil {
		return nil, fmt.Errorf("invalid embeddings file %s: %v", path, err)
	}
	log.Printf("Read %d embeddings from %s", index.Len(), path)
	return index, nil
}

func runServe(args []string) error {
	var opts Options
	fs := flag.NewFlagSet("metacat serve", flag.ExitOnError)
	fs.StringVar(&opts.Addr, "addr", "localhost:8080", "Address to listen on")
	fs.BoolVar(&opts.ReadOnly, "read-only", false, "Start server in read-only mode (no catalog mutations)")
	fs.BoolVar(&opts.Schedule, "schedule", false, "Log scheduled processes when they are due")
	fs.StringVar(&opts.Embeddings, "embeddings", "embeddings.json", "Path of the saved vector index within the store")
	opts.addStoreFlags(fs)
	parseFlags(fs, args)
	log.Printf("Using config from flags/env vars: %+v", opts)

	st, closeStore, err := openStore(opts)
	if err != nil {
		return err
	}
	defer closeOnReturn(closeStore)
	bundle, err := loadConfig(st, opts.ConfigFile)
	if err != nil {
		return err
	}
	r, err := loadCatalog(st, bundle, opts.Snapshot)
	if err != nil {
		return err
	}
	index, err := loadEmbeddings(st, opts.Embeddings)
	if err != nil {
		return err
	}

	objects, err := bundle.NewObjectStore(opts.RootDir)
	if err != nil {
		return fmt.Errorf("could not create object store: %v", err)
	}
	if !bundle.ObjectStore.Durable() {
		log.Printf("Object store is in memory; asset content is lost on exit")
	}
	backends := web.Backends{
		Objects: objects,
		Index:   index,
	}
	readOnly := opts.ReadOnly || opts.GitURL != ""
	if !readOnly {
		backends.Snapshots = st
	}
	if opts.Schedule {
		sched := schedule.New(r, nil)
		sched.Start()
		defer sched.Stop()
		backends.Scheduler = sched
	}

	server := web.NewServer(
		web.ServerOptions{
			Addr:           opts.Addr,
			SnapshotPath:   opts.Snapshot,
			EmbeddingsPath: opts.Embeddings,
			ReadOnly:       readOnly,
			HelpLink:       bundle.HelpLink,
		},
		r,
		backends,
	)
	if err := server.Serve(); err != nil {
		log.Printf("Server stopped: %v", err)
	}
	return nil
}

func runValidate(args []string) error {
	var opts Options
	fs := flag.NewFlagSet("metacat validate", flag.ExitOnError)
	opts.addStoreFlags(fs)
	parseFlags(fs, args)

	st, closeStore, err := openStore(opts)
	if err != nil {
		return err
	}
	defer closeOnReturn(closeStore)
	bundle, err := loadConfig(st, opts.ConfigFile)
	if err != nil {
		return err
	}
	r, err := repo.Load(st, bundle.Catalog, opts.Snapshot)
	if err != nil {
		return fmt.Errorf("catalog is invalid: %w", err)
	}
	printSummary(os.Stdout, r)
	return nil
}

func printSummary(w io.Writer, r *repo.Repository) {
	for _, m := range r.ListMetastores() {
		fmt.Fprintf(w, "metastore %s: %d assets\n", m.ID, len(m.Assets))
	}
	for _, p := range r.ListProcesses() {
		stages, err := repo.ExecutionStages(p.Transformations)
		if err != nil {
			fmt.Fprintf(w, "process %s: %v\n", p.ID, err)
			continue
		}
		fmt.Fprintf(w, "process %s: stages %v\n", p.ID, stages)
	}
	fmt.Fprintf(w, "%d entities OK\n", r.Size())
}

func runInit(args []string) error {
	var opts Options
	fs := flag.NewFlagSet("metacat init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing snapshot")
	opts.addStoreFlags(fs)
	parseFlags(fs, args)

	st, closeStore, err := openStore(opts)
	if err != nil {
		return err
	}
	defer closeOnReturn(closeStore)
	if _, err := st.ReadFile(opts.Snapshot); err == nil && !*force {
		return fmt.Errorf("snapshot %s already exists (use -force to overwrite)", opts.Snapshot)
	}
	r, err := repo.FromDocument(exampleDocument(), repo.Config{})
	if err != nil {
		return fmt.Errorf("example catalog is invalid: %w", err)
	}
	if err := r.Save(st, opts.Snapshot); err != nil {
		return err
	}
	log.Printf("Wrote example catalog with %d entities to %s", r.Size(), opts.Snapshot)
	return nil
}

func runIngest(args []string) error {
	var opts Options
	fs := flag.NewFlagSet("metacat ingest", flag.ExitOnError)
	metastoreID := fs.String("metastore", "", "ID of the metastore to add the assets to")
	assetType := fs.String("asset-type", "file", "Asset type of the ingested files")
	opts.addStoreFlags(fs)
	parseFlags(fs, args)
	if *metastoreID == "" || fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: metacat ingest -metastore <id> [flags] <file>...")
		os.Exit(1)
	}
	if opts.GitURL != "" {
		return fmt.Errorf("cannot ingest into a git-backed catalog")
	}

	st, closeStore, err := openStore(opts)
	if err != nil {
		return err
	}
	defer closeOnReturn(closeStore)
	bundle, err := loadConfig(st, opts.ConfigFile)
	if err != nil {
		return err
	}
	if !bundle.ObjectStore.Durable() {
		return fmt.Errorf("cannot ingest into an in-memory object store: configure objectStore.s3 or objectStore.dir in %s", opts.ConfigFile)
	}
	r, err := loadCatalog(st, bundle, opts.Snapshot)
	if err != nil {
		return err
	}

	objects, err := bundle.NewObjectStore(opts.RootDir)
	if err != nil {
		return fmt.Errorf("could not create object store: %v", err)
	}
	jobs, err := ingest.JobsFromFiles(*metastoreID, *assetType, fs.Args())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	in := &ingest.Ingester{
		Catalog:      r,
		Objects:      objects,
		BaseLocation: bundle.ObjectStore.BaseLocation,
		Timeout:      bundle.Ingest.Timeout,
		Parallelism:  bundle.Ingest.Parallelism,
	}
	assets, err := in.RunAll(ctx, jobs)
	if len(assets) > 0 {
		// Keep what was registered, even if a later job failed.
		if err := r.Save(st, opts.Snapshot); err != nil {
			return err
		}
	}
	if err != nil {
		return fmt.Errorf("ingestion failed after %d of %d assets: %w", len(assets), len(jobs), err)
	}
	for _, a := range assets {
		fmt.Printf("%s\t%s\n", a.ID, a.Location)
	}
	return nil
}

// runSnapshots lists the catalog documents in the store. For git stores, it
// also lists all branches and tags with their commits.
func runSnapshots(args []string) error {
	var opts Options
	fs := flag.NewFlagSet("metacat snapshots", flag.ExitOnError)
	dir := fs.String("dir", ".", "Directory to search for catalog documents, relative to the store root")
	opts.addStoreFlags(fs)
	parseFlags(fs, args)

	var st store.Store
	if opts.GitURL != "" {
		client, err := gitclient.New(opts.GitURL, gitClientAuthFromEnv())
		if err != nil {
			return fmt.Errorf("failed to retrieve git repo: %v", err)
		}
		src := store.NewGitSource(client, opts.GitRef, opts.GitRootDir)
		refs, err := src.ListReferences()
		if err != nil {
			return fmt.Errorf("failed to list references: %v", err)
		}
		fmt.Printf("Branches and tags in %s:\n", client.URL())
		for _, ref := range refs {
			commit, err := src.Commit(ref)
			if err != nil {
				return err
			}
			fmt.Printf("  %-24s %s\n", ref, commit)
		}
		if st, err = src.Store(""); err != nil {
			return fmt.Errorf("cannot use git ref %q: %v", opts.GitRef, err)
		}
		fmt.Printf("\nCatalog documents at %q:\n", src.DefaultRef())
	} else {
		var closeStore func() error
		var err error
		if st, closeStore, err = openStore(opts); err != nil {
			return err
		}
		defer closeOnReturn(closeStore)
	}

	files, err := store.SnapshotFiles(st, *dir)
	if err != nil {
		return fmt.Errorf("failed to list catalog documents: %v", err)
	}
	for _, f := range files {
		fmt.Printf("  %s\n", f)
	}
	return nil
}
