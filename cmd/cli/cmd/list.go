package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List transcription jobs",
	Long: `List jobs, newest first.

Example:
  scribectl list
  scribectl list --status failed --limit 20`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		status, _ := flags.GetString("status")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")

		client := NewClient(viper.GetString("url"))

		result, err := client.ListJobs(status, limit, offset)
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		if len(result.Jobs) == 0 {
			cmd.Println("No jobs found.")
			return
		}

		cmd.Printf("%-36s  %-12s  %-8s  %s\n", "ID", "STATUS", "MODEL", "FILE")
		for _, job := range result.Jobs {
			cmd.Printf("%-36s  %-12s  %-8s  %s\n", job.ID, job.Status, job.Model, job.Filename)
		}
		cmd.Printf("\n%d of %d jobs\n", len(result.Jobs), result.Total)
	},
}

func init() {
	flags := listCmd.Flags()
	flags.StringP("status", "s", "", "Filter by status (pending, processing, completed, failed)")
	flags.Int("limit", 50, "Maximum number of jobs to return")
	flags.Int("offset", 0, "Number of jobs to skip")

	rootCmd.AddCommand(listCmd)
}
