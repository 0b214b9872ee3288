package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/cloudtrail-notifier/internal/lambdaboot"
	"github.com/fpang/cloudtrail-notifier/internal/logging"
	"github.com/fpang/cloudtrail-notifier/internal/notify"
	"github.com/fpang/cloudtrail-notifier/internal/s3util"
)

// CLI flags
var (
	bucketFlag      string
	keyFlag         string
	fileFlag        string
	configFlag      string
	scratchFlag     string
	concurrencyFlag int
	dryRunFlag      bool
)

var rootCmd = &cobra.Command{
	Use:   "trail-filter",
	Short: "Filter CloudTrail logs and publish matching events to SNS",
	Long: `trail-filter runs the same pipeline as the Lambda function from a shell.

Examples:
  trail-filter run --bucket my-trail --key AWSLogs/123/CloudTrail/us-east-1/2026/01/01/log.json.gz
  trail-filter scan --file ./log.json.gz --config ./filter_config.json --dry-run`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one S3 object using the environment configuration",
	Long: `run reads FILTER_CONFIG_BUCKET / FILTER_CONFIG_SSM_PARAM and the other
Lambda environment variables, then processes the given object end to end.`,
	RunE: runObject,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Filter a local log file against a local config",
	RunE:  runScan,
}

func init() {
	runCmd.Flags().StringVarP(&bucketFlag, "bucket", "b", "", "Bucket holding the CloudTrail log")
	runCmd.Flags().StringVarP(&keyFlag, "key", "k", "", "Object key of the .json.gz log")
	_ = runCmd.MarkFlagRequired("bucket")
	_ = runCmd.MarkFlagRequired("key")

	scanCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Local CloudTrail log (.json or .json.gz)")
	scanCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Local filter_config.json")
	scanCmd.Flags().StringVar(&scratchFlag, "scratch", os.TempDir(), "Directory for decompressed copies")
	scanCmd.Flags().IntVar(&concurrencyFlag, "concurrency", notify.DefaultConcurrency, "Maximum in-flight SNS publishes")
	scanCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Print matching notifications instead of publishing")
	_ = scanCmd.MarkFlagRequired("file")
	_ = scanCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd, scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runObject(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	start := time.Now()

	clients, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		return err
	}
	settings, err := lambdaboot.LoadSettings()
	if err != nil {
		return err
	}
	orch, loader := lambdaboot.NewPipeline(clients, settings)
	lambdaboot.StartupLog("trail-filter", start, settings, loader).Log()

	run, err := orch.Execute(ctx, s3util.ObjectRef{Bucket: bucketFlag, Key: keyFlag}, "")
	printRun(cmd, run.Records, run.Matched, run.Report)
	return err
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadLocalConfig(configFlag)
	if err != nil {
		return err
	}
	result, err := scanFile(fileFlag, cfg, scratchFlag)
	if err != nil {
		return err
	}

	if dryRunFlag {
		for _, r := range result.Matched {
			fmt.Fprintln(cmd.OutOrStdout(), notify.FormatMessage(r))
		}
		printRun(cmd, result.Total, len(result.Matched), nil)
		return nil
	}

	clients, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		return err
	}
	publisher := lambdaboot.SNSPublishers(clients.Config)(cfg.SNS.Region)
	report, err := publishMatches(ctx, publisher, cfg, result.Matched, concurrencyFlag)
	printRun(cmd, result.Total, len(result.Matched), report)
	if err != nil {
		log.Error().Err(err).Msg("Some notifications failed")
	}
	return err
}

func printRun(cmd *cobra.Command, records, matched int, report *notify.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "--------------------------------------------")
	fmt.Fprintf(out, "Records: %d\n", records)
	fmt.Fprintf(out, "Matched: %d\n", matched)
	if report != nil {
		fmt.Fprintf(out, "Sent:    %d\n", report.Sent)
		fmt.Fprintf(out, "Failed:  %d\n", report.Failed)
	}
}
