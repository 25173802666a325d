package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"reportflow/internal/jobstore"
	"reportflow/internal/types"
)

// --- Mocks ---

type enqueueCall struct {
	queue    string
	jobID    string
	payload  any
	fireAt   time.Time
	cronExpr string
	timezone string
}

type mockJobStore struct {
	delayed   []enqueueCall
	recurring []enqueueCall
	canceled  []enqueueCall
	counts    map[string]types.QueueCounts
	failWith  error
}

func (m *mockJobStore) EnqueueDelayed(_ context.Context, queue, jobID string, payload any, fireAt time.Time) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.delayed = append(m.delayed, enqueueCall{queue: queue, jobID: jobID, payload: payload, fireAt: fireAt})
	return nil
}

func (m *mockJobStore) EnqueueRecurring(_ context.Context, queue, jobID string, payload any, cronExpr, timezone string) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.recurring = append(m.recurring, enqueueCall{queue: queue, jobID: jobID, payload: payload, cronExpr: cronExpr, timezone: timezone})
	return nil
}

func (m *mockJobStore) Cancel(_ context.Context, queue, jobID string) error {
	m.canceled = append(m.canceled, enqueueCall{queue: queue, jobID: jobID})
	return nil
}

func (m *mockJobStore) Counts(_ context.Context, queue string) (types.QueueCounts, error) {
	return m.counts[queue], nil
}

type mockTemplates struct {
	tpl *types.ReportTemplate
	err error
}

func (m *mockTemplates) GetByID(context.Context, string) (*types.ReportTemplate, error) {
	return m.tpl, m.err
}

type mockLister struct {
	reports []types.ScheduledReport
	err     error
}

func (m *mockLister) ListActive(context.Context) ([]types.ScheduledReport, error) {
	return m.reports, m.err
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeReport() *types.ScheduledReport {
	return &types.ScheduledReport{
		ID:              "rep_1",
		TemplateID:      "tpl_1",
		CronExpr:        "0 8 * * *",
		Timezone:        "UTC",
		LeadTimeMinutes: 15,
		Title:           "Weekly Sales",
		Recipients:      "a@example.com",
		UserID:          "user_1",
		Status:          types.ReportStatusActive,
	}
}

// --- Tests ---

func TestScheduleEnqueuesBothJobs(t *testing.T) {
	store := &mockJobStore{}
	templates := &mockTemplates{tpl: &types.ReportTemplate{ID: "tpl_1", DashboardLayout: `{"widgets":[]}`}}
	clock := fixedClock{now: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)}

	s := NewReportScheduler(store, templates, clock, testLogger())
	if err := s.Schedule(context.Background(), activeReport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.delayed) != 1 {
		t.Fatalf("expected 1 delayed job, got %d", len(store.delayed))
	}
	gen := store.delayed[0]
	if gen.queue != jobstore.QueueGeneration {
		t.Errorf("unexpected queue: %s", gen.queue)
	}
	if gen.jobID != "generate-report-rep_1" {
		t.Errorf("unexpected job id: %s", gen.jobID)
	}
	wantAt := time.Date(2026, 3, 2, 7, 45, 0, 0, time.UTC)
	if !gen.fireAt.Equal(wantAt) {
		t.Errorf("expected generation at %v, got %v", wantAt, gen.fireAt)
	}
	payload := gen.payload.(jobstore.GenerationPayload)
	if payload.Layout != `{"widgets":[]}` {
		t.Errorf("payload should carry the template layout, got %s", payload.Layout)
	}

	if len(store.recurring) != 1 {
		t.Fatalf("expected 1 recurring job, got %d", len(store.recurring))
	}
	del := store.recurring[0]
	if del.queue != jobstore.QueueDelivery {
		t.Errorf("unexpected queue: %s", del.queue)
	}
	if del.jobID != "send-email-rep_1" {
		t.Errorf("unexpected job id: %s", del.jobID)
	}
	if del.cronExpr != "0 8 * * *" || del.timezone != "UTC" {
		t.Errorf("recurring job should carry the report schedule, got %s %s", del.cronExpr, del.timezone)
	}
}

func TestScheduleClampsToNowInsideLeadWindow(t *testing.T) {
	store := &mockJobStore{}
	templates := &mockTemplates{tpl: &types.ReportTemplate{ID: "tpl_1"}}
	now := time.Date(2026, 3, 2, 7, 50, 0, 0, time.UTC)

	s := NewReportScheduler(store, templates, fixedClock{now: now}, testLogger())
	if err := s.Schedule(context.Background(), activeReport()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !store.delayed[0].fireAt.Equal(now) {
		t.Errorf("expected generation clamped to now %v, got %v", now, store.delayed[0].fireAt)
	}
}

func TestScheduleRejectsInactiveReport(t *testing.T) {
	store := &mockJobStore{}
	templates := &mockTemplates{tpl: &types.ReportTemplate{}}

	s := NewReportScheduler(store, templates, fixedClock{now: time.Now()}, testLogger())

	rep := activeReport()
	rep.Status = types.ReportStatusInactive
	if err := s.Schedule(context.Background(), rep); err == nil {
		t.Fatal("expected error scheduling an inactive report")
	}
	if len(store.delayed)+len(store.recurring) != 0 {
		t.Error("no jobs should be enqueued for an inactive report")
	}
}

func TestScheduleInvalidCron(t *testing.T) {
	store := &mockJobStore{}
	templates := &mockTemplates{tpl: &types.ReportTemplate{}}

	s := NewReportScheduler(store, templates, fixedClock{now: time.Now()}, testLogger())

	rep := activeReport()
	rep.CronExpr = "bogus"
	err := s.Schedule(context.Background(), rep)
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeValidationInvalidCron {
		t.Errorf("unexpected code: %s", appErr.Code)
	}
}

func TestUnscheduleCancelsBothJobs(t *testing.T) {
	store := &mockJobStore{}
	s := NewReportScheduler(store, &mockTemplates{}, fixedClock{now: time.Now()}, testLogger())

	if err := s.Unschedule(context.Background(), "rep_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.canceled) != 2 {
		t.Fatalf("expected 2 cancellations, got %d", len(store.canceled))
	}
	if store.canceled[0].jobID != "generate-report-rep_1" {
		t.Errorf("unexpected first cancellation: %s", store.canceled[0].jobID)
	}
	if store.canceled[1].jobID != "send-email-rep_1" {
		t.Errorf("unexpected second cancellation: %s", store.canceled[1].jobID)
	}
}

func TestResyncSchedulesAllActiveAndSkipsFailures(t *testing.T) {
	store := &mockJobStore{}
	templates := &mockTemplates{tpl: &types.ReportTemplate{ID: "tpl_1"}}
	clock := fixedClock{now: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)}

	good := *activeReport()
	bad := *activeReport()
	bad.ID = "rep_2"
	bad.CronExpr = "bogus"
	second := *activeReport()
	second.ID = "rep_3"

	s := NewReportScheduler(store, templates, clock, testLogger())
	err := s.Resync(context.Background(), &mockLister{reports: []types.ScheduledReport{good, bad, second}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// rep_2 fails on cron parse, rep_1 and rep_3 still get scheduled.
	if len(store.recurring) != 2 {
		t.Errorf("expected 2 recurring jobs, got %d", len(store.recurring))
	}
}

func TestQueueMetrics(t *testing.T) {
	store := &mockJobStore{counts: map[string]types.QueueCounts{
		jobstore.QueueGeneration: {Waiting: 4, Active: 2},
		jobstore.QueueDelivery:   {Waiting: 1, Active: 0},
	}}
	s := NewReportScheduler(store, &mockTemplates{}, fixedClock{now: time.Now()}, testLogger())

	generation, delivery, err := s.QueueMetrics(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if generation.Waiting != 4 || generation.Active != 2 {
		t.Errorf("unexpected generation counts: %+v", generation)
	}
	if delivery.Waiting != 1 || delivery.Active != 0 {
		t.Errorf("unexpected delivery counts: %+v", delivery)
	}
}

func TestDeliveryPayloadRoundTrips(t *testing.T) {
	p := jobstore.DeliveryPayload{ReportID: "rep_1", Title: "Weekly Sales", Recipients: "a@example.com,b@example.com"}

	body, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got jobstore.DeliveryPayload
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != p {
		t.Errorf("expected %+v, got %+v", p, got)
	}
}
