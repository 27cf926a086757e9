package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"lessonvault/internal/app"
	"lessonvault/internal/config"
	"lessonvault/internal/offline"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	// Ctrl-C cancels downloads and stops playback.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// readConfig loads the config file from the default location.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// withApp reads the config, creates a LessonVaultApp and runs fn with it.
// operation identifies the CLI command being run (e.g. "Download", "Play").
func withApp(cmd *cobra.Command, operation string, fn func(ctx context.Context, a *app.LessonVaultApp) error) error {
	cfg, err := readConfig()
	if err != nil {
		return err
	}

	a, err := app.NewLessonVaultApp(cfg, operation)
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer a.Close()

	err = fn(cmd.Context(), a)
	a.Fail(err)
	return err
}

// readPassphrase prompts on the terminal, or reads LESSONVAULT_PASSPHRASE when
// stdin is not a terminal.
func readPassphrase(prompt string) (string, error) {
	if env := os.Getenv("LESSONVAULT_PASSPHRASE"); env != "" {
		return env, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal for passphrase prompt; set LESSONVAULT_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// unlockIfNeeded asks for the key cache passphrase when sealed keys are set up.
func unlockIfNeeded(a *app.LessonVaultApp) error {
	if !a.NeedsPassphrase() {
		return nil
	}
	pass, err := readPassphrase("Key cache passphrase: ")
	if err != nil {
		return err
	}
	return a.UnlockKeys(pass)
}

// explain adds a hint for errors the user can act on.
func explain(err error) error {
	switch {
	case offline.IsEntitlementError(err):
		return fmt.Errorf("%w (contact support if you believe this is wrong)", err)
	case offline.IsIntegrityError(err):
		return fmt.Errorf("%w (remove the lesson with `lessonvault rm` and download it again)", err)
	case errors.Is(err, offline.ErrStorageExhausted):
		return fmt.Errorf("%w (free up space or remove downloaded lessons)", err)
	default:
		return err
	}
}

var rootCmd = &cobra.Command{
	Use:          "lessonvault",
	Short:        "Download and play licensed lessons offline",
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

		// Each installation gets its own device id.
		deviceID := uuid.New().String()

		cfg := config.NewConfig(deviceID, defaults["base_dir"])
		cfg.Platform = runtime.GOOS
		if host, err := os.Hostname(); err == nil {
			cfg.DeviceName = host
		}
		if url, _ := cmd.Flags().GetString("server"); url != "" {
			cfg.Server.URL = url
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		fmt.Printf("Server:    %s\n", cfg.Server.URL)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device ID:   %s\n", cfg.DeviceID)
		fmt.Printf("Device Name: %s\n", cfg.DeviceName)
		fmt.Printf("Server:      %s\n", cfg.Server.URL)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Store:       %s\n", cfg.Store.Type)
		fmt.Printf("Key Cache:   %s\n", cfg.KeyCache.Type)
		return nil
	},
}

// login command
var loginCmd = &cobra.Command{
	Use:   "login [TOKEN]",
	Short: "Save the account token",
	Long:  "Save the account token issued by the license server. Without an argument the token is read from stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading token: %w", err)
			}
			token = line
		}

		if err := app.SaveToken(cfg.Server.TokenPath, token); err != nil {
			return err
		}
		fmt.Printf("Token saved to %s\n", cfg.Server.TokenPath)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the content key cache",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up passphrase-protected key storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "KeysInit", func(ctx context.Context, a *app.LessonVaultApp) error {
			if a.NeedsPassphrase() {
				return fmt.Errorf("key cache already set up")
			}
			pass, err := readPassphrase("New passphrase: ")
			if err != nil {
				return err
			}
			if os.Getenv("LESSONVAULT_PASSPHRASE") == "" {
				confirm, err := readPassphrase("Repeat passphrase: ")
				if err != nil {
					return err
				}
				if confirm != pass {
					return fmt.Errorf("passphrases do not match")
				}
			}
			if err := a.SetupKeys(pass); err != nil {
				return fmt.Errorf("setting up key cache: %w", err)
			}
			fmt.Println("Key cache ready.")
			return nil
		})
	},
}

// device command
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage this device's registration",
}

var deviceRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device with your account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "RegisterDevice", func(ctx context.Context, a *app.LessonVaultApp) error {
			dev, err := a.RegisterDevice(ctx)
			if err != nil {
				return fmt.Errorf("registering device: %w", err)
			}
			fmt.Printf("Registered %s (%s)\n", dev.DeviceID, dev.DisplayName)
			return nil
		})
	},
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your account's active devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "ListDevices", func(ctx context.Context, a *app.LessonVaultApp) error {
			devices, err := a.ListDevices(ctx)
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No active devices.")
				return nil
			}
			for _, d := range devices {
				fmt.Printf("%s  %-20s  %-8s  last active %s\n",
					d.DeviceID,
					d.DisplayName,
					d.Platform,
					d.LastActiveAt.Format("2006-01-02 15:04"),
				)
			}
			return nil
		})
	},
}

// download command
var downloadCmd = &cobra.Command{
	Use:   "download CONTENT_ID",
	Short: "Download a lesson for offline playback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Download", func(ctx context.Context, a *app.LessonVaultApp) error {
			last := -1
			entry, err := a.Download(ctx, args[0], func(p int) {
				if p != last {
					last = p
					fmt.Fprintf(os.Stderr, "\r%3d%%", p)
				}
			})
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return explain(err)
			}
			fmt.Printf("Downloaded %s (%s, %d bytes)\n", entry.ContentID, entry.Title, entry.SizeBytes)
			return nil
		})
	},
}

// play command
var playCmd = &cobra.Command{
	Use:   "play CONTENT_ID",
	Short: "Serve a downloaded lesson to a local player",
	Long:  "Decrypt a downloaded lesson into memory and serve it on a loopback URL until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Play", func(ctx context.Context, a *app.LessonVaultApp) error {
			if err := unlockIfNeeded(a); err != nil {
				return err
			}

			handle, err := a.Play(ctx, args[0])
			if err != nil {
				return explain(err)
			}
			defer handle.Release()

			url, err := handle.Serve(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Playing %s at %s\n", args[0], url)
			fmt.Println("Press Ctrl-C to stop.")

			<-ctx.Done()
			return nil
		})
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List downloaded lessons",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "List", func(ctx context.Context, a *app.LessonVaultApp) error {
			entries, err := a.List(ctx)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No lessons downloaded.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%-24s  %-12s  %10d  %s  %s\n",
					e.ContentID,
					e.Course,
					e.SizeBytes,
					e.DownloadedAt.Format("2006-01-02 15:04"),
					e.Title,
				)
			}
			return nil
		})
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm CONTENT_ID",
	Short: "Remove a downloaded lesson",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Remove", func(ctx context.Context, a *app.LessonVaultApp) error {
			if err := a.Remove(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", args[0])
			return nil
		})
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status CONTENT_ID...",
	Short: "Show the state of lessons on this device",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Status", func(ctx context.Context, a *app.LessonVaultApp) error {
			for _, id := range args {
				state, err := a.Status(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("%-24s  %s\n", id, strings.ReplaceAll(state.String(), "_", " "))
			}
			return nil
		})
	},
}

// demo command
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Manage the free demo lesson",
}

var demoSkipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Skip the demo lesson",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "SkipDemo", func(ctx context.Context, a *app.LessonVaultApp) error {
			if err := a.SkipDemo(ctx); err != nil {
				return err
			}
			fmt.Println("Demo skipped.")
			return nil
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("server", "", "License server URL")

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// device subcommands
	deviceCmd.AddCommand(deviceRegisterCmd)
	deviceCmd.AddCommand(deviceListCmd)

	// demo subcommands
	demoCmd.AddCommand(demoSkipCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(demoCmd)
}
