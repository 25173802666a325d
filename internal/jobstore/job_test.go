package jobstore

import "testing"

func TestJobIDHelpers(t *testing.T) {
	if got := GenerationJobID("rep-42"); got != "generate-report-rep-42" {
		t.Errorf("unexpected generation job id: %s", got)
	}
	if got := DeliveryJobID("rep-42"); got != "send-email-rep-42" {
		t.Errorf("unexpected delivery job id: %s", got)
	}
}

func TestJobIDHelpersAreStablePerReport(t *testing.T) {
	// The id is derived from the report alone, so re-scheduling produces the
	// same id and replaces the pending job instead of duplicating it.
	if GenerationJobID("abc") != GenerationJobID("abc") {
		t.Error("generation job id is not stable")
	}
	if GenerationJobID("abc") == GenerationJobID("xyz") {
		t.Error("distinct reports must map to distinct job ids")
	}
}

func TestRecurring(t *testing.T) {
	oneShot := Job{ID: "generate-report-1", Queue: QueueGeneration}
	if oneShot.Recurring() {
		t.Error("job without a cron expression should not be recurring")
	}

	recurring := Job{ID: "send-email-1", Queue: QueueDelivery, CronExpr: "0 8 * * *"}
	if !recurring.Recurring() {
		t.Error("job with a cron expression should be recurring")
	}
}

func TestKeysLayout(t *testing.T) {
	k := newKeys("reportflow", QueueGeneration)

	if got := k.waiting(); got != "reportflow:report-generation:waiting" {
		t.Errorf("unexpected waiting key: %s", got)
	}
	if got := k.active(); got != "reportflow:report-generation:active" {
		t.Errorf("unexpected active key: %s", got)
	}
	if got := k.job("generate-report-1"); got != "reportflow:report-generation:job:generate-report-1" {
		t.Errorf("unexpected job key: %s", got)
	}
}
