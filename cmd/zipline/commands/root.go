package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "zipline",
	Short: "Zipline - runtime delivery of compiled JavaScript modules",
	Long:  `Fetches, verifies, and caches precompiled JavaScript bytecode modules described by a topologically-sorted manifest.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("application-name", "zipline", "Application name reported in events")
	rootCmd.PersistentFlags().String("cache-dir", ".zipline/cache", "Content cache blob directory")
	rootCmd.PersistentFlags().String("cache-db-path", ".zipline/cache.db", "Cache metadata SQLite path")
	rootCmd.PersistentFlags().Int64("max-cache-size", 100*1024*1024, "Cache size bound in bytes")
	rootCmd.PersistentFlags().String("fsm-db-path", ".zipline/fsm.db", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("embedded-dir", "", "Directory of trusted precompiled modules")
	rootCmd.PersistentFlags().String("download-dir", ".zipline/modules", "Directory materialized downloads land in")
	rootCmd.PersistentFlags().Int("concurrent-downloads", 3, "Max simultaneous network downloads")
	rootCmd.PersistentFlags().Int("http-timeout", 30, "HTTP request timeout in seconds")
	rootCmd.PersistentFlags().Bool("s3-enabled", false, "Enable the s3:// module origin")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region for the s3:// origin")

	viper.BindPFlag("application-name", rootCmd.PersistentFlags().Lookup("application-name"))
	viper.BindPFlag("cache-dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("cache-db-path", rootCmd.PersistentFlags().Lookup("cache-db-path"))
	viper.BindPFlag("max-cache-size", rootCmd.PersistentFlags().Lookup("max-cache-size"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("embedded-dir", rootCmd.PersistentFlags().Lookup("embedded-dir"))
	viper.BindPFlag("download-dir", rootCmd.PersistentFlags().Lookup("download-dir"))
	viper.BindPFlag("concurrent-downloads", rootCmd.PersistentFlags().Lookup("concurrent-downloads"))
	viper.BindPFlag("http-timeout", rootCmd.PersistentFlags().Lookup("http-timeout"))
	viper.BindPFlag("s3-enabled", rootCmd.PersistentFlags().Lookup("s3-enabled"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
}
