package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show queue depth and job totals",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		status, err := client.QueueStatus()
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		cmd.Printf("%sQueue Status%s\n", colorBold, colorReset)
		cmd.Println("──────────────────────────────")
		cmd.Printf("%sWaiting:%s    %d\n", colorDim, colorReset, status.Waiting)
		cmd.Printf("%sActive:%s     %d\n", colorDim, colorReset, status.Active)
		cmd.Printf("%sCompleted:%s  %d\n", colorDim, colorReset, status.Completed)
		cmd.Printf("%sFailed:%s     %d\n", colorDim, colorReset, status.Failed)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check transcription backend health",
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		health, err := client.BackendHealth()
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		if health.Healthy {
			cmd.Printf("%s✓%s Backend is healthy\n", colorGreen, colorReset)
		} else {
			cmd.Printf("%s✗%s Backend is unhealthy\n", colorRed, colorReset)
		}
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(healthCmd)
}
