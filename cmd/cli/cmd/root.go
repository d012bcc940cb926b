package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "scribectl",
	Short: "Scribectl is a command line tool for the scribeq transcription service",
	Long: `scribectl is the command-line interface for scribeq, a transcription
job orchestration service.

scribeq accepts media files, queues them durably, and runs them through a
whisper transcription backend with retries and priority scheduling.

Common workflows:

  Submit a file for transcription:
    scribectl submit --file /data/uploads/interview.wav --language en

  Check job status:
    scribectl status <job-id>

  List recent jobs:
    scribectl list --status completed

  Inspect the queue:
    scribectl queue

Configuration:
  Set the API endpoint via a flag, environment variable or config file:
    SCRIBEQ_URL    API endpoint (default: http://localhost:8750)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".scribectl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".scribectl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "SCRIBEQ_VARNAME"
	viper.SetEnvPrefix("SCRIBEQ")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.scribectl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8750", "scribeq API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
