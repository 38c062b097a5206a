package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tanq16/stager/internal/config"
	"github.com/tanq16/stager/internal/ingest"
	"github.com/tanq16/stager/internal/output"
	"github.com/tanq16/stager/internal/transfer"
	"github.com/tanq16/stager/internal/utils"
)

var (
	configFile string
	debug      bool
	v          = config.New()
	cfg        *config.Config
)

var StagerVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "stager",
	Short:   "Stager streams public data files and archives into object storage",
	Version: StagerVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, configFile)
		if err != nil {
			return err
		}
		format := cfg.Log.Format
		if format == "" && cmd.Name() == "serve" {
			format = "json"
		}
		utils.InitLogger(debug, cfg.Log.Level, format)
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// newService builds the ingest service for one command run.
func newService(ctx context.Context, reporter transfer.Reporter) *ingest.Service {
	svc, err := ingest.New(ctx, cfg, reporter)
	if err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
	return svc
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", flag, err))
	}
}

func bind(vp *viper.Viper, key string, cmd *cobra.Command, flag string) {
	if err := vp.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", flag, err))
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML config file")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")

	flags.String("backend", "gcs", "Storage backend (s3, gcs, minio, file, memory)")
	flags.StringP("bucket", "b", "", "Bucket to store objects in")
	flags.String("bucket-secret", "", "Secret holding the bucket name, used when --bucket is empty")
	flags.String("root", "", "Root directory for the file backend")
	flags.String("endpoint", "", "Custom endpoint for S3-compatible storage")
	flags.String("region", "", "Storage region")
	flags.String("profile", "", "AWS profile")
	flags.String("secrets", "env", "Secrets backend (env, gcp, aws)")
	flags.String("project", "", "GCP project for secret lookups")

	flags.DurationP("timeout", "t", 3*time.Minute, "Connection and response header timeout (eg. 5s, 10m)")
	flags.DurationP("keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	flags.StringP("user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser agent)")
	flags.StringP("proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	flags.StringArrayP("header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")

	bindFlag("storage.backend", "backend")
	bindFlag("storage.bucket", "bucket")
	bindFlag("storage.bucket_secret", "bucket-secret")
	bindFlag("storage.root", "root")
	bindFlag("storage.endpoint", "endpoint")
	bindFlag("storage.region", "region")
	bindFlag("storage.profile", "profile")
	bindFlag("secrets.backend", "secrets")
	bindFlag("secrets.project", "project")
	bindFlag("http.timeout", "timeout")
	bindFlag("http.keep_alive_timeout", "keep-alive-timeout")
	bindFlag("http.user_agent", "user-agent")
	bindFlag("http.proxy", "proxy")
	bindFlag("http.headers", "header")

	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newServeCmd())
}
