package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skein-dev/skein/internal/config"
	"github.com/skein-dev/skein/internal/ingest"
	"github.com/skein-dev/skein/internal/linker"
	"github.com/skein-dev/skein/internal/live"
	"github.com/skein-dev/skein/internal/store"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "skein",
		Short: "Unified contact graph across messaging platforms",
		Long: `Skein maintains one canonical record per real-world person, maps
platform identities (whatsapp, telegram, discord, slack, signal,
matrix, ...) onto it, indexes message content for search, and
suggests merges between contacts that look like the same person.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(contactCmd())
	rootCmd.AddCommand(identityCmd())
	rootCmd.AddCommand(suggestCmd())
	rootCmd.AddCommand(autolinkCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if jsonOutput {
		printJSON(map[string]any{"ok": false, "error": msg})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

func openStore() *store.Store {
	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	dbPath, err := config.DatabasePath()
	if err != nil {
		fatal("failed to resolve database path: %v", err)
	}
	var opts []store.Option
	if cfg.Search.DisableFTS {
		opts = append(opts, store.WithoutFullText())
	}
	s, err := store.Open(dbPath, opts...)
	if err != nil {
		fatal("failed to open store: %v", err)
	}
	return s
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("skein %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize skein config and database",
		Run: func(cmd *cobra.Command, args []string) {
			configDir, err := config.GetConfigDir()
			if err != nil {
				fatal("failed to get config directory: %v", err)
			}
			if err := os.MkdirAll(configDir, 0755); err != nil {
				fatal("failed to create config directory: %v", err)
			}
			dbPath, err := config.DatabasePath()
			if err != nil {
				fatal("failed to resolve database path: %v", err)
			}
			s, err := store.Open(dbPath)
			if err != nil {
				fatal("failed to initialize database: %v", err)
			}
			ftsAvailable := s.FullTextAvailable()
			s.Close()

			if jsonOutput {
				printJSON(map[string]any{
					"ok":            true,
					"config_dir":    configDir,
					"db_path":       dbPath,
					"fts_available": ftsAvailable,
				})
			} else {
				fmt.Printf("✓ Config directory: %s\n", configDir)
				fmt.Printf("✓ Database: %s\n", dbPath)
				if !ftsAvailable {
					fmt.Println("! Full-text search unavailable, using substring search")
				}
			}
		},
	}
}

func contactCmd() *cobra.Command {
	contactCmd := &cobra.Command{
		Use:   "contact",
		Short: "Manage canonical contacts",
	}

	var aliases []string
	createCmd := &cobra.Command{
		Use:   "create <display-name>",
		Short: "Create a canonical contact",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()
			c, err := s.CreateContact(args[0], aliases)
			if err != nil {
				fatal("failed to create contact: %v", err)
			}
			if jsonOutput {
				printJSON(c)
			} else {
				fmt.Printf("Created %s (%s)\n", c.DisplayName, c.CanonicalID)
			}
		},
	}
	createCmd.Flags().StringSliceVar(&aliases, "alias", nil, "Alias (repeatable)")
	contactCmd.AddCommand(createCmd)

	var listQuery, listPlatform string
	var listLimit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List contacts, most recently updated first",
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()
			contacts, err := s.ListContacts(store.ListOptions{Query: listQuery, Platform: listPlatform, Limit: listLimit})
			if err != nil {
				fatal("failed to list contacts: %v", err)
			}
			if jsonOutput {
				printJSON(contacts)
				return
			}
			for _, c := range contacts {
				line := fmt.Sprintf("%-40s %s", c.CanonicalID, c.DisplayName)
				if len(c.Aliases) > 0 {
					line += " (" + strings.Join(c.Aliases, ", ") + ")"
				}
				fmt.Println(line)
			}
		},
	}
	listCmd.Flags().StringVar(&listQuery, "query", "", "Substring filter on name/aliases")
	listCmd.Flags().StringVar(&listPlatform, "platform", "", "Only contacts with an identity on this platform")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Max results")
	contactCmd.AddCommand(listCmd)

	contactCmd.AddCommand(&cobra.Command{
		Use:   "show <canonical-id>",
		Short: "Show a contact with its platform identities",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()
			cwi, err := s.ContactWithIdentities(args[0])
			if err != nil {
				fatal("failed to get contact: %v", err)
			}
			if cwi == nil {
				fatal("contact %s not found", args[0])
			}
			if jsonOutput {
				printJSON(cwi)
				return
			}
			fmt.Printf("%s (%s)\n", cwi.Contact.DisplayName, cwi.Contact.CanonicalID)
			if len(cwi.Contact.Aliases) > 0 {
				fmt.Printf("  aliases: %s\n", strings.Join(cwi.Contact.Aliases, ", "))
			}
			for _, pi := range cwi.Identities {
				line := fmt.Sprintf("  %s:%s", pi.Platform, pi.PlatformID)
				if pi.DisplayName != "" {
					line += " " + pi.DisplayName
				}
				if pi.Phone != nil {
					line += " " + *pi.Phone
				}
				fmt.Println(line)
			}
		},
	})

	var searchLimit int
	searchContactsCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search contacts by name, alias or identity",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()
			contacts, err := s.SearchContacts(args[0], searchLimit)
			if err != nil {
				fatal("failed to search contacts: %v", err)
			}
			if jsonOutput {
				printJSON(contacts)
				return
			}
			for _, c := range contacts {
				fmt.Printf("%-40s %s\n", c.CanonicalID, c.DisplayName)
			}
		},
	}
	searchContactsCmd.Flags().IntVar(&searchLimit, "limit", 50, "Max results")
	contactCmd.AddCommand(searchContactsCmd)

	contactCmd.AddCommand(&cobra.Command{
		Use:   "merge <primary-id> <secondary-id>",
		Short: "Merge the secondary contact into the primary",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()
			result, err := linker.LinkContacts(s, args[0], args[1])
			if err != nil {
				fatal("merge failed: %v", err)
			}
			if jsonOutput {
				printJSON(result)
				return
			}
			if !result.Success {
				fatal("%s", result.Error)
			}
			fmt.Printf("Merged %s into %s\n", args[1], args[0])
		},
	})

	contactCmd.AddCommand(&cobra.Command{
		Use:   "unlink <platform> <platform-id>",
		Short: "Split an identity off onto a new contact",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()
			result, err := linker.UnlinkIdentity(s, args[0], args[1])
			if err != nil {
				fatal("unlink failed: %v", err)
			}
			if jsonOutput {
				printJSON(result)
				return
			}
			if !result.Success {
				fatal("%s", result.Error)
			}
			fmt.Printf("Unlinked %s:%s onto new contact %s\n", args[0], args[1], result.ContactID)
		},
	})

	return contactCmd
}

func identityCmd() *cobra.Command {
	identityCmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage platform identities",
	}

	var username, phone, displayName string
	addCmd := &cobra.Command{
		Use:   "add <contact-id> <platform> <platform-id>",
		Short: "Attach (or move) a platform identity to a contact",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()
			c, err := s.GetContact(args[0])
			if err != nil {
				fatal("failed to get contact: %v", err)
			}
			if c == nil {
				fatal("contact %s not found", args[0])
			}
			pi, err := s.AddIdentity(store.IdentityInput{
				ContactID:   args[0],
				Platform:    args[1],
				PlatformID:  args[2],
				Username:    username,
				Phone:       phone,
				DisplayName: displayName,
			})
			if err != nil {
				fatal("failed to add identity: %v", err)
			}
			if jsonOutput {
				printJSON(pi)
			} else {
				fmt.Printf("Linked %s:%s to %s\n", pi.Platform, pi.PlatformID, pi.ContactID)
			}
		},
	}
	addCmd.Flags().StringVar(&username, "username", "", "Platform username")
	addCmd.Flags().StringVar(&phone, "phone", "", "Phone number (normalized on write)")
	addCmd.Flags().StringVar(&displayName, "name", "", "Display name on the platform")
	identityCmd.AddCommand(addCmd)

	identityCmd.AddCommand(&cobra.Command{
		Use:   "list <contact-id>",
		Short: "List a contact's platform identities",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()
			identities, err := s.IdentitiesByContact(args[0])
			if err != nil {
				fatal("failed to list identities: %v", err)
			}
			if jsonOutput {
				printJSON(identities)
				return
			}
			for _, pi := range identities {
				fmt.Printf("%s:%s %s\n", pi.Platform, pi.PlatformID, pi.DisplayName)
			}
		},
	})

	return identityCmd
}

func suggestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest",
		Short: "List ranked merge suggestions",
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()
			suggestions, err := linker.FindLinkSuggestions(s)
			if err != nil {
				fatal("failed to find suggestions: %v", err)
			}
			if jsonOutput {
				printJSON(suggestions)
				return
			}
			for _, sug := range suggestions {
				fmt.Printf("[%s %.2f] %s  %s:%s <-> %s:%s\n",
					sug.Confidence, sug.Score, sug.Reason,
					sug.Source.Platform, sug.Source.PlatformID,
					sug.Target.Platform, sug.Target.PlatformID)
			}
		},
	}
}

func autolinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autolink",
		Short: "Merge all high-confidence suggestions",
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()
			result, err := linker.AutoLinkHighConfidence(s)
			if err != nil {
				fatal("autolink failed: %v", err)
			}
			if jsonOutput {
				printJSON(result)
			} else {
				fmt.Printf("Linked %d contacts (%d skipped)\n", result.Linked, result.Skipped)
			}
		},
	}
}

func indexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <batch.json>",
		Short: "Index a JSON batch of inbound messages",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()
			result, err := ingest.NewProcessor(s).ProcessFile(args[0])
			if err != nil {
				fatal("index failed: %v", err)
			}
			if jsonOutput {
				printJSON(result)
			} else {
				fmt.Printf("Indexed %d messages (%d resolved, %d skipped)\n", result.Indexed, result.Resolved, result.Skipped)
			}
		},
	}
}

func searchCmd() *cobra.Command {
	var from, channel string
	var platforms []string
	var since, until string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed messages",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()

			opts := store.MessageSearchOptions{
				Query:     args[0],
				From:      from,
				Platforms: platforms,
				ChannelID: channel,
				Limit:     limit,
			}
			var err error
			if opts.Since, err = parseTimeMillis(since); err != nil {
				fatal("invalid --since: %v", err)
			}
			if opts.Until, err = parseTimeMillis(until); err != nil {
				fatal("invalid --until: %v", err)
			}

			results, err := s.SearchMessages(opts)
			if err != nil {
				fatal("search failed: %v", err)
			}
			if jsonOutput {
				printJSON(results)
				return
			}
			for _, r := range results {
				ts := time.UnixMilli(r.Message.Timestamp).Format("2006-01-02 15:04")
				fmt.Printf("[%s] %s:%s (%.2f)\n  %s\n", ts, r.Message.Platform, r.Message.SenderID, r.Score, r.Snippet)
			}
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Filter by sender (resolved via contact search)")
	cmd.Flags().StringSliceVar(&platforms, "platform", nil, "Filter by platform (repeatable)")
	cmd.Flags().StringVar(&channel, "channel", "", "Filter by channel id")
	cmd.Flags().StringVar(&since, "since", "", "Lower time bound (RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Upper time bound (RFC3339)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max results")
	return cmd
}

func parseTimeMillis(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show contact graph statistics",
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore()
			defer s.Close()
			stats, err := s.Stats()
			if err != nil {
				fatal("failed to get stats: %v", err)
			}
			if jsonOutput {
				printJSON(stats)
				return
			}
			fmt.Printf("Contacts:  %d\n", stats.Contacts)
			fmt.Printf("Identities: %d\n", stats.Identities)
			fmt.Printf("Messages:  %d\n", stats.IndexedMessages)
			for platform, count := range stats.IdentitiesByPlatform {
				fmt.Printf("  %s: %d\n", platform, count)
			}
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the inbox directory and index message batches as they land",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			if err != nil {
				fatal("failed to load config: %v", err)
			}
			inbox, err := cfg.InboxDir()
			if err != nil {
				fatal("failed to resolve inbox: %v", err)
			}

			log, err := zap.NewProduction()
			if err != nil {
				fatal("failed to create logger: %v", err)
			}
			defer log.Sync()

			s := openStore()
			defer s.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			debounce := time.Duration(cfg.Watch.DebounceSeconds) * time.Second
			watcher := live.NewWatcher(ingest.NewProcessor(s), inbox, debounce, log)
			if err := watcher.Run(ctx); err != nil {
				fatal("watch failed: %v", err)
			}
		},
	}
}
