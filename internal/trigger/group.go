package trigger

// GroupKey derives the concurrency group for a run. Runs sharing a group key
// are mutually exclusive: submitting a new run cancels the in-flight one.
//
// Branch-scoped events group by pipeline and branch so stacked pushes to the
// same branch supersede each other. Release events group by run ID so two
// releases never cancel one another.
func GroupKey(pipeline string, branch, runID string) string {
	if branch != "" {
		return pipeline + "-" + branch
	}
	return pipeline + "-" + runID
}
