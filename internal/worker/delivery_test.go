package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"reportflow/internal/jobstore"
	"reportflow/internal/mail"
	"reportflow/internal/types"
)

// --- Mocks ---

type mockArtifactReader struct {
	art *types.Artifact
	err error
}

func (m *mockArtifactReader) GetActive(context.Context, string) (*types.Artifact, error) {
	return m.art, m.err
}

type mockMailer struct {
	sent []*mail.Message
	err  error
}

func (m *mockMailer) Send(msg *mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockHistory struct {
	inserted  []*types.DeliveryHistory
	updated   []*types.DeliveryHistory
	insertErr error
	updateErr error
}

func (m *mockHistory) Insert(_ context.Context, h *types.DeliveryHistory) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	cp := *h
	m.inserted = append(m.inserted, &cp)
	return nil
}

func (m *mockHistory) Update(_ context.Context, h *types.DeliveryHistory) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	cp := *h
	m.updated = append(m.updated, &cp)
	return nil
}

type mockMeta struct {
	meta map[string]string
	err  error
}

func (m *mockMeta) SetMeta(_ context.Context, _, _ string, meta map[string]string) error {
	if m.err != nil {
		return m.err
	}
	m.meta = meta
	return nil
}

// --- Fixtures ---

func deliveryJob(t *testing.T, reportID string, attempt int, meta map[string]string) *jobstore.Job {
	t.Helper()
	payload, err := json.Marshal(jobstore.DeliveryPayload{
		ReportID:   reportID,
		Title:      "Weekly Sales",
		Recipients: "stale@example.com",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if meta == nil {
		meta = map[string]string{}
	}
	return &jobstore.Job{
		ID:          jobstore.DeliveryJobID(reportID),
		Queue:       jobstore.QueueDelivery,
		Payload:     payload,
		Meta:        meta,
		Attempt:     attempt,
		MaxAttempts: 3,
	}
}

func deliveryFixture(t *testing.T) (*DeliveryHandler, *mockMailer, *mockHistory, *mockMeta) {
	t.Helper()

	reports := &mockReports{reports: map[string]*types.ScheduledReport{
		"rep_1": {
			ID:         "rep_1",
			Status:     types.ReportStatusActive,
			Title:      "Weekly Sales",
			Recipients: "fresh@example.com,second@example.com",
			UserID:     "user_1",
		},
	}}
	artifacts := &mockArtifactReader{art: &types.Artifact{
		UID:        "att_1",
		ReportID:   "rep_1",
		StorageKey: "reports/rep_1/1772437500000.pdf",
		Status:     types.ArtifactStatusActive,
		CreatedAt:  time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC),
	}}
	objects := &mockObjectStore{gets: map[string][]byte{
		"reports/rep_1/1772437500000.pdf": []byte("%PDF-1.4 data"),
	}}
	composer, err := mail.NewComposer("Reportflow")
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	mailer := &mockMailer{}
	history := &mockHistory{}
	meta := &mockMeta{}
	clock := fixedClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}

	h := NewDeliveryHandler(reports, artifacts, objects, composer, mailer, history, meta, clock, testLogger())
	return h, mailer, history, meta
}

// --- Tests ---

func TestDeliverySuccessFirstAttempt(t *testing.T) {
	h, mailer, history, meta := deliveryFixture(t)

	if err := h.Handle(context.Background(), deliveryJob(t, "rep_1", 1, nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.Subject != "Report: Weekly Sales" {
		t.Errorf("unexpected subject: %s", msg.Subject)
	}
	// Recipients come from the report row, not the job payload.
	if len(msg.To) != 2 || msg.To[0] != "fresh@example.com" {
		t.Errorf("unexpected recipients: %v", msg.To)
	}
	if len(msg.Attachments) != 1 || string(msg.Attachments[0].Body) != "%PDF-1.4 data" {
		t.Error("expected the stored document attached")
	}

	if len(history.inserted) != 1 || len(history.updated) != 0 {
		t.Fatalf("expected 1 insert and 0 updates, got %d/%d", len(history.inserted), len(history.updated))
	}
	row := history.inserted[0]
	if row.Status != types.DeliveryStatusSuccess {
		t.Errorf("unexpected status: %s", row.Status)
	}
	if row.Attempt != 1 {
		t.Errorf("unexpected attempt: %d", row.Attempt)
	}
	if row.ArtifactUID != "att_1" {
		t.Errorf("unexpected artifact uid: %s", row.ArtifactUID)
	}
	if row.SentAt == nil {
		t.Error("sent_at must be set on success")
	}

	// A successful first attempt is terminal, so the row uid never needs to
	// reach a later attempt.
	if meta.meta != nil {
		t.Errorf("no job metadata should be written on success, got %v", meta.meta)
	}
}

func TestDeliveryFailureFirstAttemptInsertsRetrying(t *testing.T) {
	h, mailer, history, meta := deliveryFixture(t)
	mailer.err = errors.New("smtp timeout")

	err := h.Handle(context.Background(), deliveryJob(t, "rep_1", 1, nil))
	if err == nil {
		t.Fatal("expected send failure to propagate for retry")
	}

	if len(history.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(history.inserted))
	}
	row := history.inserted[0]
	if row.Status != types.DeliveryStatusRetrying {
		t.Errorf("attempt 1 of 3 should record retrying, got %s", row.Status)
	}
	if row.ErrorMessage != "smtp timeout" {
		t.Errorf("unexpected error message: %s", row.ErrorMessage)
	}
	if row.SentAt != nil {
		t.Error("sent_at must stay empty on failure")
	}
	if meta.meta[jobstore.MetaHistoryUID] == "" {
		t.Error("history uid must be carried to the next attempt")
	}
}

func TestDeliveryRetryUpdatesExistingRow(t *testing.T) {
	h, _, history, _ := deliveryFixture(t)

	meta := map[string]string{jobstore.MetaHistoryUID: "hist_prev"}
	if err := h.Handle(context.Background(), deliveryJob(t, "rep_1", 2, meta)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(history.inserted) != 0 {
		t.Error("later attempts must not insert new rows")
	}
	if len(history.updated) != 1 {
		t.Fatalf("expected 1 update, got %d", len(history.updated))
	}
	row := history.updated[0]
	if row.UID != "hist_prev" {
		t.Errorf("update must target the carried row uid, got %s", row.UID)
	}
	if row.Status != types.DeliveryStatusSuccess || row.Attempt != 2 {
		t.Errorf("unexpected outcome: %s attempt %d", row.Status, row.Attempt)
	}
}

func TestDeliveryFinalAttemptRecordsFailed(t *testing.T) {
	h, mailer, history, _ := deliveryFixture(t)
	mailer.err = errors.New("relay refused")

	meta := map[string]string{jobstore.MetaHistoryUID: "hist_prev"}
	err := h.Handle(context.Background(), deliveryJob(t, "rep_1", 3, meta))
	if err == nil {
		t.Fatal("expected final failure to propagate")
	}

	if len(history.updated) != 1 {
		t.Fatalf("expected 1 update, got %d", len(history.updated))
	}
	row := history.updated[0]
	if row.Status != types.DeliveryStatusFailed {
		t.Errorf("final attempt should record failed, got %s", row.Status)
	}
	if row.Attempt != 3 {
		t.Errorf("unexpected attempt: %d", row.Attempt)
	}
}

func TestDeliveryHistoryErrorsAreSwallowed(t *testing.T) {
	h, mailer, history, _ := deliveryFixture(t)
	history.insertErr = errors.New("db down")

	if err := h.Handle(context.Background(), deliveryJob(t, "rep_1", 1, nil)); err != nil {
		t.Fatalf("a history write failure must not fail the delivery: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Error("email should still have been sent")
	}
}

func TestDeliveryMissingArtifactFails(t *testing.T) {
	h, mailer, history, _ := deliveryFixture(t)
	h.artifacts = &mockArtifactReader{err: types.NewAppError(types.ErrCodeNotFoundArtifact, "no active artifact for report", nil)}

	err := h.Handle(context.Background(), deliveryJob(t, "rep_1", 1, nil))
	if err == nil {
		t.Fatal("expected error when no artifact exists")
	}
	if len(mailer.sent) != 0 {
		t.Error("no email should be sent without an artifact")
	}
	if len(history.inserted) != 1 {
		t.Fatal("the failed attempt must still be recorded")
	}
	if history.inserted[0].Status != types.DeliveryStatusRetrying {
		t.Errorf("unexpected status: %s", history.inserted[0].Status)
	}
}

func TestDeliveryMissingReportFailsAndRecords(t *testing.T) {
	h, mailer, history, _ := deliveryFixture(t)
	h.reports = &mockReports{reports: map[string]*types.ScheduledReport{}}

	err := h.Handle(context.Background(), deliveryJob(t, "rep_1", 1, nil))
	if err == nil {
		t.Fatal("a removed report must fail the attempt")
	}
	if len(mailer.sent) != 0 {
		t.Error("no email may be sent for a removed report")
	}
	if len(history.inserted) != 1 {
		t.Fatal("the failed attempt must still be recorded")
	}
	row := history.inserted[0]
	if row.Status != types.DeliveryStatusRetrying {
		t.Errorf("unexpected status: %s", row.Status)
	}
	if row.ReportID != "rep_1" {
		t.Errorf("unexpected report id: %s", row.ReportID)
	}
	// With no report row to consult, the entry falls back to the payload
	// recipients and carries no owner.
	if row.UserID != "" {
		t.Errorf("user id must be empty, got %s", row.UserID)
	}
	if row.Recipients != "stale@example.com" {
		t.Errorf("unexpected recipients: %s", row.Recipients)
	}
	if row.ArtifactUID != "" {
		t.Errorf("no artifact was delivered, got uid %s", row.ArtifactUID)
	}
}

func TestDeliveryInactiveReportFailsAndRecords(t *testing.T) {
	h, mailer, history, _ := deliveryFixture(t)
	h.reports = &mockReports{reports: map[string]*types.ScheduledReport{
		"rep_1": {
			ID:         "rep_1",
			Status:     types.ReportStatusInactive,
			Title:      "Weekly Sales",
			Recipients: "fresh@example.com,second@example.com",
			UserID:     "user_1",
		},
	}}

	err := h.Handle(context.Background(), deliveryJob(t, "rep_1", 1, nil))
	if err == nil {
		t.Fatal("an inactive report must fail the attempt")
	}
	if len(mailer.sent) != 0 {
		t.Error("no email may be sent for an inactive report")
	}
	if len(history.inserted) != 1 {
		t.Fatal("the failed attempt must still be recorded")
	}
	row := history.inserted[0]
	if row.Status != types.DeliveryStatusRetrying {
		t.Errorf("unexpected status: %s", row.Status)
	}
	// The row was found, so the entry records its owner and recipients.
	if row.UserID != "user_1" {
		t.Errorf("unexpected user id: %s", row.UserID)
	}
	if row.Recipients != "fresh@example.com,second@example.com" {
		t.Errorf("unexpected recipients: %s", row.Recipients)
	}
}
