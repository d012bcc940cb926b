package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [job_id]",
	Short: "Delete a job and its transcript",
	Long:  `Delete a job record. Any queued work for the job is dropped and its stored transcript artifact is removed.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		if err := client.DeleteJob(args[0]); err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Delete failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Delete failed: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Job %s deleted\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
