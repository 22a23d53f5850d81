package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/imageeval/internal/blob"
	"github.com/pavelanni/imageeval/internal/handler"
	appI18n "github.com/pavelanni/imageeval/internal/i18n"
	"github.com/pavelanni/imageeval/internal/model"
	"github.com/pavelanni/imageeval/internal/store"
	"github.com/pavelanni/imageeval/internal/survey"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "imageeval",
		Short: "Image quality survey server",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `imageeval --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStorageFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "imageeval.db", "SQLite database path")
	f.String("media-dir", "media", "Directory for uploaded images (fs backend)")
	f.String("blob-backend", "fs", "Image storage backend (fs, gcs)")
	f.String("gcs-bucket", "", "Google Cloud Storage bucket (gcs backend)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP survey server",
		RunE:  runServe,
	}
	addStorageFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "UI language (en, ru)")
	f.Bool("negotiate-lang", false, "Prefer the browser's Accept-Language over --lang")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /eval)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set IMAGEEVAL_ADMIN_PASSWORD)")
	f.Int("max-upload-mb", 256, "Maximum archive upload size in MiB")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create an evaluation from an archive on disk",
		RunE:  runImport,
	}
	addStorageFlags(cmd)
	f := cmd.Flags()
	f.String("title", "", "Evaluation title (required)")
	f.String("type", string(model.EvaluationSelection), "Evaluation type (SEL, CLS)")
	f.String("archive", "", "Path to the zip archive (required)")
	f.String("question", "", "Question text shown with every item")
	f.Bool("allow-duplicate", false, "Import even if the archive was imported before")

	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("archive")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an evaluation's answers as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "imageeval.db", "SQLite database path")
	f.Int64("evaluation", 0, "Evaluation ID (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("evaluation")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("IMAGEEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("imageeval")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/imageeval")
	v.AddConfigPath("/etc/imageeval")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openBlobs returns the configured image store and a function releasing it.
func openBlobs(ctx context.Context, v *viper.Viper) (blob.Store, func(), error) {
	switch backend := strings.ToLower(v.GetString("blob-backend")); backend {
	case "", "fs":
		fs, err := blob.NewFS(v.GetString("media-dir"))
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using filesystem image storage", "dir", v.GetString("media-dir"))
		return fs, func() {}, nil
	case "gcs":
		bucket := v.GetString("gcs-bucket")
		if bucket == "" {
			return nil, nil, fmt.Errorf("--gcs-bucket is required for the gcs backend")
		}
		g, err := blob.NewGCS(ctx, bucket)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using GCS image storage", "bucket", bucket)
		return g, func() { _ = g.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown blob backend %q", backend)
	}
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if err := db.CleanupExpiredSessions(ctx); err != nil {
		slog.Warn("failed to clean up expired auth sessions", "error", err)
	}

	blobs, closeBlobs, err := openBlobs(ctx, v)
	if err != nil {
		return fmt.Errorf("open image storage: %w", err)
	}
	defer closeBlobs()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	cfg := model.ServerConfig{
		BasePath:       normalizeBasePath(v.GetString("base-path")),
		SecureCookies:  v.GetBool("secure-cookies"),
		MaxUploadBytes: int64(v.GetInt("max-upload-mb")) << 20,
	}
	h := handler.New(db, survey.New(db, blobs), blobs, cfg)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(lang, v.GetBool("negotiate-lang")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"base_path", cfg.BasePath,
		"blob_backend", v.GetString("blob-backend"),
		"max_upload_mb", v.GetInt("max-upload-mb"),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func runImport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)
	ctx := cmd.Context()

	data, err := os.ReadFile(v.GetString("archive"))
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	blobs, closeBlobs, err := openBlobs(ctx, v)
	if err != nil {
		return fmt.Errorf("open image storage: %w", err)
	}
	defer closeBlobs()

	eval, err := survey.New(db, blobs).CreateEvaluation(ctx, survey.NewEvaluation{
		Title:          v.GetString("title"),
		Type:           model.EvaluationType(strings.ToUpper(v.GetString("type"))),
		QuestionText:   v.GetString("question"),
		Archive:        data,
		AllowDuplicate: v.GetBool("allow-duplicate"),
	})
	if err != nil {
		// The import error itself is generic; the cause is what an operator needs.
		if cause := errors.Unwrap(err); cause != nil {
			return fmt.Errorf("import %s: %w: %v", v.GetString("archive"), err, cause)
		}
		return fmt.Errorf("import %s: %w", v.GetString("archive"), err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created evaluation %d %q with %d questions\n",
		eval.ID, eval.Title, eval.TotalQuestions)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Export reads only the database, so no image storage is needed.
	data, err := survey.New(db, nil).ExportJSON(cmd.Context(), v.GetInt64("evaluation"))
	if err != nil {
		return fmt.Errorf("export evaluation: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or IMAGEEVAL_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
