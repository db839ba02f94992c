package sessions

// ActivityType labels entries in the append-only session audit log.
type ActivityType string

const (
	ActivityCreated          ActivityType = "created"
	ActivityUpdated          ActivityType = "updated"
	ActivityStatusChanged    ActivityType = "status_changed"
	ActivityStrategyUpdated  ActivityType = "strategy_updated"
	ActivitySearchExecuted   ActivityType = "search_executed"
	ActivityExecutionFailed  ActivityType = "execution_failed"
	ActivityResultsProcessed ActivityType = "results_processed"
	ActivityReviewDecision   ActivityType = "review_decision"
	ActivityReviewCompleted  ActivityType = "review_completed"
	ActivityReportExported   ActivityType = "report_exported"
	ActivityNoteAdded        ActivityType = "note_added"
)

// StatusChangeDescription renders the audit description for a status move.
func StatusChangeDescription(from, to Status) string {
	return "Status changed from " + from.Label() + " to " + to.Label()
}
