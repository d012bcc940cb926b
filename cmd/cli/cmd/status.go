package cmd

import (
	"fmt"
	"time"

	"scribeq/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a transcription job",
	Long:  `Retrieve a job record, including its current state (pending, processing, completed, failed), timestamps and, once completed, the transcript text.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewClient(viper.GetString("url"))

		job, err := client.GetJob(args[0])
		if err != nil {
			if apiErr, ok := err.(*APIError); ok {
				cmd.Printf("Request failed (%d): %s\n", apiErr.StatusCode, apiErr.Message)
			} else {
				cmd.Printf("Request failed: %v\n", err)
			}
			return
		}

		printStatus(cmd, job)
	},
}

func printStatus(cmd *cobra.Command, job *api.JobResponse) {
	icon := statusIcon(job.Status)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s        %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sFile:%s      %s\n", colorDim, colorReset, job.Filename)
	cmd.Printf("%sModel:%s     %s\n", colorDim, colorReset, job.Model)
	cmd.Printf("%sStatus:%s    %s\n", colorDim, colorReset, colorizeStatus(job.Status))

	if job.ErrorMessage != "" {
		cmd.Printf("%sError:%s     %s%s%s\n", colorDim, colorReset, colorRed, job.ErrorMessage, colorReset)
	}

	cmd.Printf("%sCreated:%s   %s\n", colorDim, colorReset, formatTimeWithRelative(&job.CreatedAt))

	if job.CompletedAt != nil {
		duration := job.CompletedAt.Sub(job.CreatedAt)
		cmd.Printf("%sFinished:%s  %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(job.CompletedAt),
			colorCyan, formatDuration(duration), colorReset)
	}

	if job.ResultText != "" {
		cmd.Println("──────────────────────────────")
		cmd.Println(job.ResultText)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "completed":
		return colorGreen + "✓" + colorReset
	case "failed":
		return colorRed + "✗" + colorReset
	case "processing":
		return colorYellow + "⏳" + colorReset
	case "pending":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "completed":
		return icon + " " + colorGreen + status + colorReset
	case "failed":
		return icon + " " + colorRed + status + colorReset
	case "processing":
		return icon + " " + colorYellow + status + colorReset
	case "pending":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
