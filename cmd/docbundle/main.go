package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantmind-br/docbundle/internal/app"
	"github.com/quantmind-br/docbundle/internal/bundle"
	"github.com/quantmind-br/docbundle/internal/cache"
	"github.com/quantmind-br/docbundle/internal/config"
	"github.com/quantmind-br/docbundle/internal/domain"
	"github.com/quantmind-br/docbundle/internal/manifest"
	"github.com/quantmind-br/docbundle/internal/output"
	"github.com/quantmind-br/docbundle/internal/provider/github"
	"github.com/quantmind-br/docbundle/internal/utils"
	"github.com/quantmind-br/docbundle/pkg/version"
)

// Dependencies for testing
var newService = app.NewService

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli holds the state shared by every command of one invocation
type cli struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	noCache bool
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "docbundle",
		Short: "Build documentation bundles from git repositories",
		Long: `docbundle resolves a repository ref to a commit, fetches a markdown
document from it and returns the document as a bundle: frontmatter,
heading outline, code blocks, callouts and rendered HTML.

Bundles can be built from the command line or served over HTTP.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.cfgFile != "" {
				c.v.SetConfigFile(c.cfgFile)
			}
		},
	}

	// Global flags
	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is ~/.docbundle/config.yaml)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Verbose output")
	flags.BoolVar(&c.noCache, "no-cache", false, "Disable the content cache")
	flags.String("provider", config.DefaultProvider, "Upstream provider (github, git)")
	flags.String("token", "", "Upstream access token (default $GITHUB_TOKEN)")
	flags.Duration("timeout", config.DefaultBundleTimeout, "Timeout for a single bundle build")
	flags.String("log-format", config.DefaultLogFormat, "Log format (pretty, json)")

	// Bind flags to viper
	_ = c.v.BindPFlag("upstream.provider", flags.Lookup("provider"))
	_ = c.v.BindPFlag("upstream.token", flags.Lookup("token"))
	_ = c.v.BindPFlag("bundle.timeout", flags.Lookup("timeout"))
	_ = c.v.BindPFlag("logging.format", flags.Lookup("log-format"))

	root.AddCommand(c.newBuildCmd())
	root.AddCommand(c.newServeCmd())
	root.AddCommand(c.newDoctorCmd())
	root.AddCommand(c.newCacheCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(c.v)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.noCache {
		cfg.Cache.Enabled = false
	}
	return cfg, nil
}

func (c *cli) service(cfg *config.Config) (*app.Service, error) {
	svc, err := newService(app.ServiceOptions{Config: cfg, Verbose: c.verbose})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}

func (c *cli) newBuildCmd() *cobra.Command {
	var (
		ref          string
		headerDepth  int
		workers      int
		pretty       bool
		manifestPath string
		outputDir    string
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "build [repository] [path...]",
		Short: "Build bundles and print or save them as JSON",
		Long: `Builds one bundle per path. The repository may be written as owner/repo,
owner/repo@ref or a repository URL; tree and blob URLs also select the path.

Without --output a single bundle is printed as an object and several as an
array in argument order. With --output, or when building a --manifest, each
bundle is saved to <output>/<owner>/<repository>/<path>.json next to a
bundles.json index.

The command fails when any bundle carries an error, unless the manifest sets
continue_on_error.`,
		Example: `  docbundle build acme/docs
  docbundle build acme/docs@v2.0.0 getting-started guide/setup
  docbundle build https://github.com/acme/docs/blob/main/docs/guide.mdx
  docbundle build --manifest bundles.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifestPath == "" && len(args) == 0 {
				return fmt.Errorf("requires a repository or --manifest")
			}
			if manifestPath != "" && len(args) > 0 {
				return fmt.Errorf("--manifest cannot be combined with a repository argument")
			}

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			svc, err := c.service(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			var (
				reqs            []domain.BundleRequest
				continueOnError bool
			)
			if manifestPath != "" {
				m, err := manifest.NewLoader().Load(manifestPath)
				if err != nil {
					return err
				}
				if reqs, err = m.Requests(); err != nil {
					return err
				}
				continueOnError = m.Options.ContinueOnError
				if !cmd.Flags().Changed("output") {
					outputDir = m.Options.Output
				}
				if !cmd.Flags().Changed("workers") {
					workers = m.Options.Workers
				}
				pretty = pretty || m.Options.Pretty
			} else {
				if reqs, err = targetRequests(args, svc.Locator()); err != nil {
					return err
				}
			}
			for i := range reqs {
				if ref != "" {
					reqs[i].Ref = ref
				}
				if headerDepth > 0 {
					reqs[i].HeaderDepth = headerDepth
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bundles := svc.BuildMany(ctx, reqs, workers)

			if outputDir != "" {
				collector := output.NewIndexCollector(output.CollectorOptions{BaseDir: outputDir, Enabled: true})
				w := output.NewWriter(output.WriterOptions{
					BaseDir:   outputDir,
					Force:     force,
					Pretty:    pretty,
					Collector: collector,
				})
				if err := w.WriteMultiple(ctx, bundles); err != nil {
					return fmt.Errorf("failed to write bundles: %w", err)
				}
				if err := collector.Flush(); err != nil {
					return fmt.Errorf("failed to write index: %w", err)
				}
				svc.Logger().Info().
					Str("output", outputDir).
					Int("bundles", len(bundles)).
					Msg("Bundles written")
			} else if err := writeBundles(cmd.OutOrStdout(), bundles, pretty); err != nil {
				return err
			}

			failed := 0
			for _, b := range bundles {
				if !b.OK() {
					failed++
				}
			}
			if failed > 0 && !continueOnError {
				return fmt.Errorf("%d of %d bundles failed", failed, len(bundles))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "Branch, tag or commit (default HEAD)")
	cmd.Flags().IntVar(&headerDepth, "header-depth", 0, "Deepest heading level kept in the outline (default from config)")
	cmd.Flags().IntVarP(&workers, "workers", "j", 4, "Number of bundles built concurrently")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "Build the bundles listed in a YAML or JSON manifest")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Save bundles under this directory instead of printing them")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing bundle files")

	return cmd
}

// targetRequests turns "repository [path...]" arguments into requests
func targetRequests(args []string, loc bundle.Locator) ([]domain.BundleRequest, error) {
	target, err := app.ParseTarget(args[0], loc)
	if err != nil {
		return nil, err
	}

	paths := args[1:]
	if len(paths) == 0 {
		paths = []string{target.Path}
	}
	reqs := make([]domain.BundleRequest, 0, len(paths))
	for _, p := range paths {
		reqs = append(reqs, domain.BundleRequest{
			Owner:      target.Owner,
			Repository: target.Repository,
			Ref:        target.Ref,
			Path:       p,
		})
	}
	return reqs, nil
}

func writeBundles(w io.Writer, bundles []*domain.Bundle, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}

	var out any = bundles
	if len(bundles) == 1 {
		out = bundles[0]
	}
	return enc.Encode(out)
}

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve bundles over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			svc, err := c.service(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := svc.NewServer()
			svc.Logger().Info().
				Str("addr", srv.Addr()).
				Str("provider", svc.Provider().Name()).
				Int("domains", len(cfg.Domains)).
				Msg("Serving bundles")

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().String("addr", config.DefaultServerAddress, "Listen address")
	_ = c.v.BindPFlag("server.address", cmd.Flags().Lookup("addr"))

	return cmd
}

func (c *cli) newDoctorCmd() *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and upstream access",
		Long:  "Verifies that the configuration loads, the cache directory is writable and the upstream can be reached.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Checking docbundle setup...")
			allPassed := true

			// Check 1: Config file
			fmt.Fprint(out, "  Config: ")
			cfg, err := c.loadConfig()
			if err != nil {
				fmt.Fprintf(out, "FAILED (%v)\n", err)
				return nil
			}
			if used := c.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(out, "OK (%s)\n", used)
			} else {
				fmt.Fprintln(out, "OK (defaults)")
			}

			// Check 2: Cache directory
			fmt.Fprint(out, "  Cache directory: ")
			switch {
			case !cfg.Cache.Enabled:
				fmt.Fprintln(out, "SKIPPED (cache disabled)")
			case cfg.Cache.Backend == cache.BackendMemory:
				fmt.Fprintln(out, "SKIPPED (memory backend)")
			default:
				dir := utils.ExpandPath(cfg.Cache.Directory)
				if checkWritable(dir) {
					fmt.Fprintf(out, "OK (%s)\n", dir)
				} else {
					fmt.Fprintf(out, "FAILED (%s is not writable)\n", dir)
					allPassed = false
				}
			}

			// Check 3: Token
			fmt.Fprint(out, "  Upstream token: ")
			if cfg.Upstream.Token != "" {
				fmt.Fprintln(out, "OK")
			} else {
				fmt.Fprintln(out, "NOT SET (anonymous requests are heavily rate limited)")
			}

			// Check 4: Upstream
			fmt.Fprint(out, "  Upstream: ")
			if repo == "" {
				fmt.Fprintln(out, "SKIPPED (pass --repo owner/name)")
			} else if report, err := checkUpstream(cmd.Context(), c, cfg, repo); err != nil {
				fmt.Fprintf(out, "FAILED (%v)\n", err)
				allPassed = false
			} else {
				fmt.Fprintf(out, "OK (%s, default branch %s)\n", cfg.Upstream.Provider, report.branch)
				if q := report.quota; q != nil {
					fmt.Fprintf(out, "  Rate limit: %d of %d remaining, resets at %s\n",
						q.Remaining, q.Limit, q.Reset.Local().Format(time.Kitchen))
					if q.Remaining == 0 {
						allPassed = false
					}
				}
			}

			fmt.Fprintln(out)
			if allPassed {
				fmt.Fprintln(out, "All critical checks passed!")
			} else {
				fmt.Fprintln(out, "Some checks failed. Please resolve the issues above.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Repository used to check the upstream (owner/name)")

	return cmd
}

// quotaReporter is implemented by providers that track an API quota
type quotaReporter interface {
	Quota() (github.Quota, bool)
}

type upstreamReport struct {
	branch string
	quota  *github.Quota
}

// checkUpstream asks the provider for the default branch of repo and
// collects the quota the answer reported, if any
func checkUpstream(ctx context.Context, c *cli, cfg *config.Config, repo string) (upstreamReport, error) {
	owner, name, err := utils.SplitRepository(repo)
	if err != nil {
		return upstreamReport{}, err
	}

	// The check only needs the provider
	cfg.Cache.Enabled = false
	svc, err := c.service(cfg)
	if err != nil {
		return upstreamReport{}, err
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	branch, err := svc.Provider().DefaultBranch(ctx, owner, name)
	if err != nil {
		return upstreamReport{}, err
	}

	report := upstreamReport{branch: branch}
	if qr, ok := svc.Provider().(quotaReporter); ok {
		if q, known := qr.Quota(); known {
			report.quota = &q
		}
	}
	return report, nil
}

// checkWritable reports whether files can be created in dir
func checkWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".docbundle-write-*")
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(f.Name())
	return true
}

func (c *cli) newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the persistent content cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache entries and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, dir, err := c.openCache()
			if err != nil {
				return err
			}
			defer store.Close()

			stats := store.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Directory: %s\n", dir)
			fmt.Fprintf(out, "Entries:   %d\n", stats.Entries)
			fmt.Fprintf(out, "LSM size:  %d bytes\n", stats.LSMSize)
			fmt.Fprintf(out, "Value log: %d bytes\n", stats.VLogSize)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, dir, err := c.openCache()
			if err != nil {
				return err
			}
			defer store.Close()

			removed := store.Size()
			if err := store.Clear(); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries from %s\n", removed, dir)
			return nil
		},
	})

	return cmd
}

// openCache opens the persistent tier of the configured cache
func (c *cli) openCache() (*cache.BadgerCache, string, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, "", err
	}
	if cfg.Cache.Backend == cache.BackendMemory {
		return nil, "", fmt.Errorf("cache backend %q keeps nothing on disk", cfg.Cache.Backend)
	}

	dir := utils.ExpandPath(cfg.Cache.Directory)
	store, err := cache.NewBadgerCache(cache.Options{Directory: dir})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open cache at %s: %w", dir, err)
	}
	return store, dir, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
