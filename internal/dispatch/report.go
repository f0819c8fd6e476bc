package dispatch

import (
	"fmt"
	"strings"

	"taskline/internal/domain"
)

// Report renders a dispatch result for the user and says whether the whole
// request succeeded. Single-plan results use the per-field summary.
func Report(res domain.BatchResult, batch bool) (string, bool) {
	if !batch && len(res.Outcomes) == 1 {
		return reportSingle(res.Outcomes[0])
	}
	return reportBatch(res)
}

func reportSingle(o domain.ItemOutcome) (string, bool) {
	if !o.OK {
		return fmt.Sprintf("Failed to update task %d: %s", o.WorkItemID, o.Error), false
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Task %d updated successfully!\n\nUpdated fields:", o.WorkItemID)
	for _, u := range o.Updates {
		fmt.Fprintf(&b, "\n• %s: %v", u.Field, u.Value)
	}
	return b.String(), true
}

func reportBatch(res domain.BatchResult) (string, bool) {
	succeeded := res.Succeeded()
	failed := res.Failed()
	var b strings.Builder
	switch {
	case len(failed) == 0:
		fmt.Fprintf(&b, "**Batch Update Completed Successfully!**\n\nUpdated %d tasks:", len(succeeded))
		for _, o := range succeeded {
			fmt.Fprintf(&b, "\n• TASK-%d", o.WorkItemID)
		}
		return b.String(), true
	case len(succeeded) == 0:
		fmt.Fprintf(&b, "**Batch Update Failed**\n\nFailed to update %d tasks:", len(failed))
		for _, o := range failed {
			fmt.Fprintf(&b, "\n• TASK-%d: %s", o.WorkItemID, o.Error)
		}
		return b.String(), false
	}
	fmt.Fprintf(&b, "**Batch Update Partially Completed**\n\nSuccessfully updated %d tasks\nFailed to update %d tasks\n\n",
		len(succeeded), len(failed))
	b.WriteString("**Successfully Updated:**")
	for _, o := range succeeded {
		fmt.Fprintf(&b, "\n• TASK-%d", o.WorkItemID)
	}
	b.WriteString("\n\n**Failed Updates:**")
	for _, o := range failed {
		fmt.Fprintf(&b, "\n• TASK-%d: %s", o.WorkItemID, o.Error)
	}
	return b.String(), false
}
