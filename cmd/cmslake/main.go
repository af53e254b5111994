package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cmslake/internal/app"
	"cmslake/internal/config"
	"cmslake/internal/metrics"
	"cmslake/internal/watch"
)

func main() {
	// a .env next to the working directory may carry CMSLAKE_* overrides
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// readConfig reads the config file named by the defaults.
func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// withApp reads the config, creates an App for the running command, hands it
// to fn and records the outcome before closing it.
func withApp(cmd *cobra.Command, args []string, fn func(ctx context.Context, a *app.App) error) error {
	cfg, _, err := readConfig()
	if err != nil {
		return err
	}

	var level slog.Leveler
	if verbose, _ := cmd.Flags().GetCount("verbose"); verbose > 0 {
		level = slog.LevelInfo
		if verbose > 1 {
			level = slog.LevelDebug
		}
	}

	ctx := cmd.Context()
	a, err := app.NewApp(ctx, cfg, app.Options{
		Operation:   strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()+" "),
		Parameters:  strings.Join(args, " "),
		StderrLevel: level,
		Metrics:     metrics.NewRecorder(nil),
	})
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}

	runErr := fn(ctx, a)
	a.Operation().Finish(runErr, time.Now())
	if err := a.Close(); err != nil && runErr == nil {
		return err
	}
	return runErr
}

var rootCmd = &cobra.Command{
	Use:          "cmslake",
	Short:        "Sync a content tree with a snapshot-published content lake",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.Credentials.SessionFile = defaults["session_file"]
		cfg.Repository.Bucket, _ = cmd.Flags().GetString("bucket")
		cfg.Repository.CredentialProxyURL, _ = cmd.Flags().GetString("proxy-url")
		if provider, _ := cmd.Flags().GetString("provider"); provider != "" {
			p, err := config.ParseStorageProvider(provider)
			if err != nil {
				return err
			}
			cfg.Repository.StorageProvider = p
		}
		if root, _ := cmd.Flags().GetString("content-root"); root != "" {
			abs, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("resolving content root: %w", err)
			}
			cfg.Content.Root = abs
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		if err := cfg.Validate(); err != nil {
			fmt.Printf("Edit the file before syncing: %v\n", err)
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		repo := cfg.Repository
		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("Bucket:        %s (%s)\n", repo.Bucket, repo.StorageProvider)
		fmt.Printf("Snapshots:     %s\n", repo.FullStoragePath(""))
		fmt.Printf("Catalog:       %s %s\n", repo.CatalogType, repo.CatalogEndpoint)
		fmt.Printf("Assets:        %s (inline up to %s)\n", repo.Mode(), humanize.Bytes(uint64(repo.Threshold())))
		fmt.Printf("Signing:       %s %s\n", cfg.Credentials.Mode, repo.CredentialProxyURL)
		fmt.Printf("URL Cache:     %s\n", cfg.Credentials.Cache)
		fmt.Printf("Vault:         %s\n", cfg.Vault.Type)
		fmt.Printf("Staging:       %s (max %s)\n", cfg.Staging.Type, humanize.Bytes(uint64(cfg.Staging.MaxSize)))
		fmt.Printf("Content Root:  %s\n", cfg.Content.Root)
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nInvalid: %v\n", err)
		}
		return nil
	},
}

// login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange an OAuth token for a signing session",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := oauthToken(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, nil, func(ctx context.Context, a *app.App) error {
			user, err := a.SignIn(ctx, token)
			if err != nil {
				return fmt.Errorf("signing in: %w", err)
			}
			fmt.Printf("Signed in as %s\n", user.Login)
			return nil
		})
	},
}

// oauthToken takes the token from --token, CMSLAKE_OAUTH_TOKEN or a hidden
// terminal prompt, in that order.
func oauthToken(cmd *cobra.Command) (string, error) {
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		return token, nil
	}
	if token := os.Getenv("CMSLAKE_OAUTH_TOKEN"); token != "" {
		return token, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no token given: pass --token or set CMSLAKE_OAUTH_TOKEN")
	}
	fmt.Fprint(os.Stderr, "OAuth token: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the signing session and cached URLs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app.App) error {
			if err := a.SignOut(ctx); err != nil {
				return fmt.Errorf("signing out: %w", err)
			}
			fmt.Println("Signed out")
			return nil
		})
	},
}

// pull command
var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Load the published snapshots into the local tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app.App) error {
			res, err := a.Pull(ctx)
			if err != nil {
				return fmt.Errorf("pull failed: %w", err)
			}
			fmt.Printf("Loaded %d entry row(s) and %d asset(s)\n", res.Entries, res.Assets)
			return nil
		})
	},
}

// stage command
var stageCmd = &cobra.Command{
	Use:   "stage [PATH...]",
	Short: "Queue local changes for the next commit",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("move-from")
		if from != "" && len(args) != 1 {
			return fmt.Errorf("--move-from needs exactly one target path")
		}
		return withApp(cmd, args, func(ctx context.Context, a *app.App) error {
			if from != "" {
				if err := a.StageMove(ctx, from, args[0]); err != nil {
					return fmt.Errorf("staging: %w", err)
				}
				fmt.Printf("Staged move of %s to %s\n", from, args[0])
				return nil
			}
			count, err := a.Stage(ctx, args)
			if err != nil {
				return fmt.Errorf("staging: %w", err)
			}
			fmt.Printf("Staged %d change(s)\n", count)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List staged changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app.App) error {
			changes, err := a.Staged()
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				fmt.Println("Nothing staged.")
				return nil
			}
			for _, ch := range changes {
				line := fmt.Sprintf("%-6s %s", ch.Action, ch.Path)
				if ch.OldPath != "" {
					line += " (from " + ch.OldPath + ")"
				}
				if ch.Payload != nil {
					line += "  " + humanize.Bytes(uint64(len(ch.Payload)))
				}
				fmt.Println(line)
			}
			return nil
		})
	},
}

// commit command
var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Publish the staged changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app.App) error {
			res, err := a.CommitStaged(ctx)
			if err != nil {
				return fmt.Errorf("commit failed: %w", err)
			}
			if res == nil {
				fmt.Println("Nothing staged.")
				return nil
			}
			fmt.Printf("Published %s (%d change(s), entries %s, assets %s)\n",
				shortHash(res.Hash), len(res.Paths),
				humanize.Bytes(uint64(res.EntriesBytes)), humanize.Bytes(uint64(res.AssetsBytes)))
			return nil
		})
	},
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// entries command
var entriesCmd = &cobra.Command{
	Use:   "entries [ENTRY_ID]",
	Short: "List entries, or show one entry",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection, _ := cmd.Flags().GetString("collection")
		return withApp(cmd, args, func(ctx context.Context, a *app.App) error {
			if len(args) == 1 {
				e, err := a.Entry(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s  [%s]  %s  by %s, updated %s\n", e.ID, e.Collection, e.Status, e.Author, humanize.Time(e.UpdatedAt))
				for _, locale := range e.LocaleKeys() {
					le := e.Locales[locale]
					fmt.Printf("  %-8s %s\n", locale, le.Path)
				}
				return nil
			}

			entries, err := a.Entries(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCOLLECTION\tLOCALES\tSTATUS\tUPDATED")
			shown := 0
			for _, e := range entries {
				if collection != "" && e.Collection != collection {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.Collection,
					strings.Join(e.LocaleKeys(), ","), e.Status, humanize.Time(e.UpdatedAt))
				shown++
			}
			if shown == 0 {
				fmt.Println("No entries.")
				return nil
			}
			return w.Flush()
		})
	},
}

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app.App) error {
			assets, err := a.Assets(ctx)
			if err != nil {
				return err
			}
			if len(assets) == 0 {
				fmt.Println("No assets.")
				return nil
			}
			sort.Slice(assets, func(i, j int) bool { return assets[i].Path < assets[j].Path })
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tKIND\tSIZE\tSTORAGE")
			for _, as := range assets {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", as.Path, as.Kind, humanize.Bytes(uint64(as.Size)), as.StorageMode)
			}
			return w.Flush()
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show local tables, cache and staging state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app.App) error {
			st, err := a.Stats(ctx)
			if err != nil {
				return err
			}
			user := "(signed out)"
			if st.User != nil {
				user = st.User.Login
			}
			fmt.Printf("User:            %s\n", user)
			fmt.Printf("Engine:          %s (%s)\n", st.EngineVariant, st.EngineID)
			fmt.Printf("Schema version:  %d\n", st.Tables.SchemaVersion)
			fmt.Printf("Entries:         %d (%d rows)\n", st.Tables.Entries, st.Tables.EntryRows)
			fmt.Printf("Assets:          %d inline (%s), %d external (%s)\n",
				st.Tables.InlineAssets, humanize.Bytes(uint64(st.Tables.InlineBytes)),
				st.Tables.ExternalAssets, humanize.Bytes(uint64(st.Tables.ExternalBytes)))
			fmt.Printf("Cached URLs:     %d\n", st.Cache.Size)
			if st.Cache.ExpiresIn > 0 {
				fmt.Printf("Session expires: in %s\n", st.Cache.ExpiresIn.Truncate(time.Second))
			}
			fmt.Printf("Staged:          %d change(s), %s\n", st.StagedChanges, humanize.Bytes(uint64(st.StagedBytes)))
			return nil
		})
	},
}

// schema command
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Manage the local tables",
}

var schemaInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app.App) error {
			if err := a.InitSchema(ctx); err != nil {
				return err
			}
			fmt.Println("Schema ready")
			return nil
		})
	},
}

var schemaIndicesCmd = &cobra.Command{
	Use:   "indices",
	Short: "Create lookup indices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, args, func(ctx context.Context, a *app.App) error {
			if err := a.CreateIndices(ctx); err != nil {
				return err
			}
			fmt.Println("Indices created")
			return nil
		})
	},
}

var schemaDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop the local tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("dropping the local tables needs --yes")
		}
		return withApp(cmd, args, func(ctx context.Context, a *app.App) error {
			if err := a.DropSchema(ctx); err != nil {
				return err
			}
			fmt.Println("Schema dropped")
			return nil
		})
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stage changes as they happen and commit them periodically",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		listen, _ := cmd.Flags().GetString("metrics-listen")
		return withApp(cmd, args, func(ctx context.Context, a *app.App) error {
			fmt.Printf("Watching %s, committing every %s (Ctrl-C to stop)\n", a.Config().Content.Root, interval)
			return a.Watch(ctx, interval, listen)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Echo info (-v) or debug (-vv) logs to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("bucket", "", "Bucket holding the snapshots")
	configInitCmd.Flags().String("provider", "", "Storage provider: s3, gcs or r2")
	configInitCmd.Flags().String("proxy-url", "", "URL of the signing service")
	configInitCmd.Flags().String("content-root", "", "Local content tree to stage and watch")

	// schema subcommands
	schemaCmd.AddCommand(schemaInitCmd)
	schemaCmd.AddCommand(schemaIndicesCmd)
	schemaCmd.AddCommand(schemaDropCmd)
	schemaDropCmd.Flags().Bool("yes", false, "Confirm dropping the local tables")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().String("token", "", "OAuth token (prompted for when omitted)")
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(stageCmd)
	stageCmd.Flags().String("move-from", "", "Stage a move from this path to the single target path")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(entriesCmd)
	entriesCmd.Flags().StringP("collection", "c", "", "Only list entries of this collection")
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Duration("interval", watch.DefaultInterval, "Time between commits")
	watchCmd.Flags().String("metrics-listen", "", "Serve Prometheus metrics on this address")
}
