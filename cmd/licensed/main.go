package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lessonvault/internal/app"
	"lessonvault/internal/config"
	"lessonvault/internal/model"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// withServer reads the server config and runs fn with a wired app.
// migrate applies pending ledger migrations instead of requiring a current schema.
func withServer(cmd *cobra.Command, migrate bool, fn func(ctx context.Context, a *app.LicenseServerApp) error) error {
	path, err := app.GetServerConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.ReadServerFromFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewLicenseServerApp(cmd.Context(), cfg, os.Stderr, migrate)
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}
	defer a.Close()

	return fn(cmd.Context(), a)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "licensed",
	Short:        "Lesson license server",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage server configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize server configuration with fresh secrets",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := app.GetServerConfigPath()
		if err != nil {
			return err
		}
		baseDir, _ := cmd.Flags().GetString("base-dir")
		if baseDir == "" {
			baseDir = filepath.Join(filepath.Dir(path), "licensed")
		}

		cfg := config.NewServerConfig(baseDir)
		if cfg.Secret, err = randomHex(32); err != nil {
			return fmt.Errorf("generating secret: %w", err)
		}
		if cfg.Auth.JWTSecret, err = randomHex(32); err != nil {
			return fmt.Errorf("generating jwt secret: %w", err)
		}

		if err := config.InitServer(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Base Dir: %s\n", baseDir)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the license HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServer(cmd, false, func(ctx context.Context, a *app.LicenseServerApp) error {
			return a.Serve(ctx)
		})
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending ledger migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServer(cmd, true, func(ctx context.Context, a *app.LicenseServerApp) error {
			fmt.Println("Ledger schema is up to date.")
			return nil
		})
	},
}

// enroll command
var enrollCmd = &cobra.Command{
	Use:   "enroll ACCOUNT_ID COURSE_ID",
	Short: "Grant an account access to a course",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inactive, _ := cmd.Flags().GetBool("inactive")
		return withServer(cmd, false, func(ctx context.Context, a *app.LicenseServerApp) error {
			if err := a.Enroll(ctx, args[0], args[1], !inactive); err != nil {
				return err
			}
			state := "active"
			if inactive {
				state = "inactive"
			}
			fmt.Printf("Enrollment %s/%s is %s\n", args[0], args[1], state)
			return nil
		})
	},
}

// content command
var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Manage lesson content",
}

func contentFromFlags(cmd *cobra.Command, contentID string) *model.Content {
	course, _ := cmd.Flags().GetString("course")
	title, _ := cmd.Flags().GetString("title")
	key, _ := cmd.Flags().GetString("object-key")
	demo, _ := cmd.Flags().GetBool("demo")
	if key == "" {
		key = course + "/" + contentID + ".mp3"
	}
	return &model.Content{
		ContentID: contentID,
		CourseID:  course,
		Title:     title,
		ObjectKey: key,
		IsDemo:    demo,
	}
}

var contentAddCmd = &cobra.Command{
	Use:   "add CONTENT_ID",
	Short: "Record lesson metadata for an asset already in the origin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := contentFromFlags(cmd, args[0])
		content.SizeBytes, _ = cmd.Flags().GetInt64("size")
		return withServer(cmd, false, func(ctx context.Context, a *app.LicenseServerApp) error {
			if err := a.AddContent(ctx, content); err != nil {
				return err
			}
			fmt.Printf("Recorded %s -> %s\n", content.ContentID, content.ObjectKey)
			return nil
		})
	},
}

var contentPublishCmd = &cobra.Command{
	Use:   "publish CONTENT_ID FILE",
	Short: "Upload a lesson asset to the origin and record it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := contentFromFlags(cmd, args[0])
		return withServer(cmd, false, func(ctx context.Context, a *app.LicenseServerApp) error {
			if err := a.Publish(ctx, content, args[1]); err != nil {
				return err
			}
			fmt.Printf("Published %s (%d bytes) -> %s\n", content.ContentID, content.SizeBytes, content.ObjectKey)
			return nil
		})
	},
}

// revoke command
var revokeCmd = &cobra.Command{
	Use:   "revoke ACCOUNT_ID",
	Short: "Revoke an account's licenses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deviceID, _ := cmd.Flags().GetString("device")
		contentID, _ := cmd.Flags().GetString("content")
		return withServer(cmd, false, func(ctx context.Context, a *app.LicenseServerApp) error {
			n, err := a.Revoke(ctx, args[0], deviceID, contentID)
			if err != nil {
				return err
			}
			fmt.Printf("Revoked %d license(s)\n", n)
			return nil
		})
	},
}

// reinstate command
var reinstateCmd = &cobra.Command{
	Use:   "reinstate ACCOUNT_ID",
	Short: "Lift revocations on an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServer(cmd, false, func(ctx context.Context, a *app.LicenseServerApp) error {
			n, err := a.Reinstate(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Reinstated %d license(s)\n", n)
			return nil
		})
	},
}

// token command
var tokenCmd = &cobra.Command{
	Use:   "token ACCOUNT_ID",
	Short: "Issue an account bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		admin, _ := cmd.Flags().GetBool("admin")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		return withServer(cmd, false, func(ctx context.Context, a *app.LicenseServerApp) error {
			tok, err := a.IssueToken(args[0], admin, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("base-dir", "", "Directory for the ledger and local content")

	// content subcommands
	for _, c := range []*cobra.Command{contentAddCmd, contentPublishCmd} {
		c.Flags().String("course", "", "Course id")
		c.Flags().String("title", "", "Lesson title")
		c.Flags().String("object-key", "", "Object key in the origin (default COURSE/CONTENT_ID.mp3)")
		c.Flags().Bool("demo", false, "Mark as the one-time demo lesson")
		c.MarkFlagRequired("course")
		contentCmd.AddCommand(c)
	}
	contentAddCmd.Flags().Int64("size", 0, "Asset size in bytes")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.Flags().Bool("inactive", false, "Record the enrollment as inactive")
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(revokeCmd)
	revokeCmd.Flags().String("device", "", "Only licenses on this device")
	revokeCmd.Flags().String("content", "", "Only licenses for this content")
	rootCmd.AddCommand(reinstateCmd)
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().Bool("admin", false, "Grant admin rights")
	tokenCmd.Flags().Duration("ttl", 30*24*time.Hour, "Token lifetime")
}
