package report

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/psantana5/airplay-fetch/pkg/models"
)

// PrintSummary renders the final run summary. Counts are always printed;
// terminal failures are listed by id and display name.
func PrintSummary(w io.Writer, res RunResult) error {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "FINAL SUMMARY")

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	table.Append("Run ID", res.RunID)
	table.Append("Total", fmt.Sprintf("%d", res.Total))
	table.Append("Succeeded", fmt.Sprintf("%d", res.Succeeded))
	table.Append("Failed", fmt.Sprintf("%d", res.Failed))
	table.Append("Retried", fmt.Sprintf("%d", res.Retried))
	table.Append("Recovered by retry", fmt.Sprintf("%d", res.Recovered))
	table.Append("Rejected descriptors", fmt.Sprintf("%d", res.Rejected))
	table.Append("Batches", fmt.Sprintf("%d", res.Batches))
	table.Append("Duration", res.Duration.Round(time.Second).String())
	if err := table.Render(); err != nil {
		return err
	}

	if len(res.StillFailed) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Failed creatives (%d):\n", len(res.StillFailed))
	reasons := make(map[string]models.FailureReason, len(res.Outcomes))
	for _, o := range res.Outcomes {
		reasons[o.Job.ID()] = o.Reason
	}

	failures := tablewriter.NewWriter(w)
	failures.Header("Aircheck ID", "Creative Name", "Station", "Reason")
	for _, c := range res.StillFailed {
		failures.Append(c.ID(), c.DisplayName(), c.StationID, string(reasons[c.ID()]))
	}
	return failures.Render()
}
