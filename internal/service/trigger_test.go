package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/AgentForge/internal/domain"
	"github.com/Strob0t/AgentForge/internal/domain/thread"
	"github.com/Strob0t/AgentForge/internal/domain/trigger"
	"github.com/Strob0t/AgentForge/internal/middleware"
	"github.com/Strob0t/AgentForge/internal/port/messagequeue"
)

type triggerEnv struct {
	*testEnv
	state  *memState
	events *fakeQueue
	host   *TriggerHost
}

func newTriggerEnv(t *testing.T) *triggerEnv {
	t.Helper()
	env := &triggerEnv{testEnv: newTestEnv(), state: newMemState(), events: newFakeQueue()}
	env.host = NewTriggerHost(TriggerDeps{
		State:     env.state,
		Runs:      env.store,
		Agents:    env.agents,
		Events:    env.events,
		PublicURL: "https://agents.example.com/",
	})
	t.Cleanup(env.host.Close)
	return env
}

func (e *triggerEnv) trigger(t *testing.T, id string, now time.Time) *Trigger {
	t.Helper()
	tr, err := e.host.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get trigger: %v", err)
	}
	tr.now = func() time.Time { return now }
	return tr
}

func cronTrigger(expr string) trigger.Data {
	return trigger.Data{
		Type:    trigger.TypeCron,
		Title:   "daily",
		AgentID: "a1",
		CronExp: expr,
		Prompt:  &trigger.Prompt{Messages: []thread.Message{{Role: thread.RoleUser, Content: "daily summary"}}},
	}
}

var triggerNow = time.Date(2030, 3, 1, 12, 2, 30, 0, time.UTC)

func TestCreateCronSchedulesOneAlarm(t *testing.T) {
	env := newTriggerEnv(t)
	tr := env.trigger(t, "tr1", triggerNow)

	d, err := tr.Create(context.Background(), cronTrigger("*/5 * * * *"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.ID != "tr1" || !d.CreatedAt.Equal(triggerNow) {
		t.Fatalf("unexpected data %+v", d)
	}
	at, ok := tr.NextAlarm()
	if !ok || !at.Equal(time.Date(2030, 3, 1, 12, 5, 0, 0, time.UTC)) {
		t.Fatalf("expected alarm at 12:05, got %v (%v)", at, ok)
	}
	if n := env.host.alarms.Pending(); n != 1 {
		t.Fatalf("expected one pending alarm, got %d", n)
	}
	if !env.state.has(triggerStatePrefix + trigger.Path(middleware.DefaultWorkspace, "tr1")) {
		t.Fatal("expected trigger data persisted")
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	env := newTriggerEnv(t)
	tr := env.trigger(t, "tr1", triggerNow)
	ctx := context.Background()

	first, err := tr.Create(ctx, cronTrigger("*/5 * * * *"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other := cronTrigger("0 9 * * *")
	other.Title = "changed"
	second, err := tr.Create(ctx, other)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Title != first.Title || second.CronExp != first.CronExp {
		t.Fatalf("expected second create to keep the armed data, got %+v", second)
	}
	if n := env.host.alarms.Pending(); n != 1 {
		t.Fatalf("expected one pending alarm, got %d", n)
	}
}

func TestCreateRejectsInvalidData(t *testing.T) {
	env := newTriggerEnv(t)
	tr := env.trigger(t, "tr1", triggerNow)

	_, err := tr.Create(context.Background(), cronTrigger("not a cron"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if tr.Data() != nil || env.host.alarms.Pending() != 0 {
		t.Fatal("failed create must leave the trigger unarmed")
	}
}

func TestDeleteTwice(t *testing.T) {
	env := newTriggerEnv(t)
	tr := env.trigger(t, "tr1", triggerNow)
	ctx := context.Background()
	if _, err := tr.Create(ctx, cronTrigger("*/5 * * * *")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range 2 {
		if err := tr.Delete(ctx); err != nil {
			t.Fatalf("delete %d: unexpected error: %v", i, err)
		}
	}
	if tr.Data() != nil {
		t.Fatal("expected trigger unarmed")
	}
	if env.host.alarms.Pending() != 0 {
		t.Fatal("expected pending alarm cancelled")
	}
	if env.state.has(triggerStatePrefix + tr.path) {
		t.Fatal("expected trigger data removed")
	}
}

func TestExternalCannotCreateOrDelete(t *testing.T) {
	env := newTriggerEnv(t)
	tr := env.trigger(t, "tr1", triggerNow)
	ext := middleware.WithExternal(context.Background())

	if _, err := tr.Create(ext, cronTrigger("*/5 * * * *")); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden create, got %v", err)
	}
	if _, err := tr.Create(context.Background(), cronTrigger("*/5 * * * *")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Delete(ext); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if tr.Data() == nil {
		t.Fatal("external delete must not unarm the trigger")
	}
}

func TestCronRunEndToEnd(t *testing.T) {
	env := newTriggerEnv(t)
	created := time.Date(2030, 3, 1, 15, 0, 0, 0, time.UTC)
	tr := env.trigger(t, "tr1", created)
	ctx := context.Background()

	if _, err := tr.Create(ctx, cronTrigger("0 9 * * *")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fire := time.Date(2030, 3, 2, 9, 0, 0, 0, time.UTC)
	if at, _ := tr.NextAlarm(); !at.Equal(fire) {
		t.Fatalf("expected first alarm at %v, got %v", fire, at)
	}

	tr.now = func() time.Time { return fire }
	tr.Alarm(ctx)

	calls := env.defaultModel().calls()
	if len(calls) != 1 || len(calls[0].Messages) != 1 || calls[0].Messages[0].Content != "daily summary" {
		t.Fatalf("expected the prompt sent once, got %+v", calls)
	}
	runs := env.store.allRuns()
	if len(runs) != 1 || runs[0].Status != trigger.RunSuccess || runs[0].TriggerID != "tr1" {
		t.Fatalf("expected one successful run, got %+v", runs)
	}
	if at, _ := tr.NextAlarm(); !at.Equal(fire.Add(24 * time.Hour)) {
		t.Fatalf("expected next alarm the following day, got %v", at)
	}
	if n := env.host.alarms.Pending(); n != 1 {
		t.Fatalf("expected one pending alarm, got %d", n)
	}
	if env.events.count(messagequeue.SubjectTriggerRun) != 1 {
		t.Fatal("expected a run event published")
	}
}

func TestCronRunRearmsAfterFailure(t *testing.T) {
	env := newTriggerEnv(t)
	env.defaultModel().err = errBoom
	tr := env.trigger(t, "tr1", triggerNow)
	ctx := context.Background()
	if _, err := tr.Create(ctx, cronTrigger("*/5 * * * *")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := range 3 {
		now := triggerNow.Add(time.Duration(i) * 5 * time.Minute)
		tr.now = func() time.Time { return now }
		out, err := tr.Run(ctx, RunArgs{})
		if err != nil {
			t.Fatalf("run %d: cron failures must not propagate, got %v", i, err)
		}
		if out.Status != http.StatusInternalServerError {
			t.Fatalf("run %d: expected soft failure, got %d", i, out.Status)
		}
		if n := env.host.alarms.Pending(); n != 1 {
			t.Fatalf("run %d: expected exactly one pending alarm, got %d", i, n)
		}
	}
	runs := env.store.allRuns()
	if len(runs) != 3 {
		t.Fatalf("expected a run record per attempt, got %d", len(runs))
	}
	for _, r := range runs {
		if r.Status != trigger.RunError || r.Metadata["error"] == nil {
			t.Fatalf("expected error run with message, got %+v", r)
		}
	}
}

func TestRunUnarmedIsLogged(t *testing.T) {
	env := newTriggerEnv(t)
	tr := env.trigger(t, "tr1", triggerNow)

	_, err := tr.Run(context.Background(), RunArgs{})
	if !domain.IsNotFoundKind(err, "trigger") {
		t.Fatalf("expected trigger not found, got %v", err)
	}
	runs := env.store.allRuns()
	if len(runs) != 1 || runs[0].Status != trigger.RunError {
		t.Fatalf("expected one error run, got %+v", runs)
	}
	tr.Alarm(context.Background()) // must not panic
}

func TestListRuns(t *testing.T) {
	env := newTriggerEnv(t)
	tr := env.trigger(t, "tr1", triggerNow)
	ctx := context.Background()
	if _, err := tr.Create(ctx, cronTrigger("*/5 * * * *")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range 3 {
		tr.Run(ctx, RunArgs{})
	}
	runs, err := tr.ListRuns(ctx, 2)
	if err != nil || len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d, %v", len(runs), err)
	}
}

func TestRestoreRearmsPersistedAlarms(t *testing.T) {
	env := newTriggerEnv(t)
	tr := env.trigger(t, "tr1", time.Now())
	if _, err := tr.Create(context.Background(), cronTrigger("0 9 * * *")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env.host.Close()

	restarted := NewTriggerHost(env.host.deps)
	t.Cleanup(restarted.Close)
	n, err := restarted.Restore(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one alarm restored, got %d, %v", n, err)
	}
	again, err := restarted.Get(context.Background(), "tr1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := again.Data(); d == nil || d.CronExp != "0 9 * * *" {
		t.Fatalf("expected trigger data reloaded, got %+v", d)
	}
	if _, ok := again.NextAlarm(); !ok {
		t.Fatal("expected restored alarm pending")
	}
}

func TestRestoreSchedulesCronTriggerWithoutAlarm(t *testing.T) {
	env := newTriggerEnv(t)
	ctx := context.Background()
	tr := env.trigger(t, "tr1", time.Now())
	if _, err := tr.Create(ctx, cronTrigger("0 9 * * *")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env.host.Close()
	// crash between storing the trigger and persisting its alarm
	if err := env.state.Delete(ctx, "alarm/"+tr.path); err != nil {
		t.Fatal(err)
	}

	restarted := NewTriggerHost(env.host.deps)
	t.Cleanup(restarted.Close)
	n, err := restarted.Restore(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one alarm restored, got %d, %v", n, err)
	}
	again, err := restarted.Get(ctx, "tr1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := again.NextAlarm(); !ok {
		t.Fatal("expected cron trigger re-armed")
	}
	if !env.state.has("alarm/" + tr.path) {
		t.Fatal("expected alarm record persisted again")
	}
}

func TestRestoreSkipsWebhookTriggers(t *testing.T) {
	env := newTriggerEnv(t)
	ctx := context.Background()
	tr := env.trigger(t, "hook", time.Now())
	if _, err := tr.Create(ctx, trigger.Data{Type: trigger.TypeWebhook, Title: "hook", AgentID: "a1", Passphrase: "secret"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env.host.Close()

	restarted := NewTriggerHost(env.host.deps)
	t.Cleanup(restarted.Close)
	n, err := restarted.Restore(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected nothing restored, got %d, %v", n, err)
	}
	if restarted.alarms.Pending() != 0 {
		t.Fatal("webhook triggers never hold an alarm")
	}
}

func TestDeleteDuringCronRearmLeavesNoAlarm(t *testing.T) {
	env := newTriggerEnv(t)
	ctx := context.Background()
	tr := env.trigger(t, "tr1", triggerNow)
	if _, err := tr.Create(ctx, cronTrigger("*/5 * * * *")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deleted := make(chan error, 1)
	calls := 0
	tr.now = func() time.Time {
		calls++
		if calls == 2 {
			// second clock read is the re-arm computing the next fire
			go func() { deleted <- tr.Delete(ctx) }()
			select {
			case err := <-deleted:
				deleted <- err
			case <-time.After(50 * time.Millisecond):
			}
		}
		return triggerNow
	}
	tr.Run(ctx, RunArgs{})

	select {
	case err := <-deleted:
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("delete did not complete")
	}
	if tr.Data() != nil {
		t.Fatal("expected trigger unarmed")
	}
	if n := env.host.alarms.Pending(); n != 0 {
		t.Fatalf("expected no pending alarm after delete, got %d", n)
	}
	if env.state.has("alarm/" + tr.path) {
		t.Fatal("expected no persisted alarm after delete")
	}
}

func TestWebhookURL(t *testing.T) {
	env := newTriggerEnv(t)
	ctx := middleware.WithWorkspace(context.Background(), "acme/main")
	tr, err := env.host.Get(ctx, "hook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, err := tr.Create(ctx, trigger.Data{Type: trigger.TypeWebhook, Title: "hook", AgentID: "a1", Passphrase: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://agents.example.com/actors/Trigger/invoke/run?deno_isolate_instance_id=acme%2Fmain%2Ftriggers%2Fhook&passphrase=secret"
	if d.URL != want {
		t.Fatalf("expected %s, got %s", want, d.URL)
	}
	if env.host.alarms.Pending() != 0 {
		t.Fatal("webhook triggers must not schedule alarms")
	}
}

func TestTriggerHostRejectsBadIDs(t *testing.T) {
	env := newTriggerEnv(t)
	for _, id := range []string{"", "a/b"} {
		if _, err := env.host.Get(context.Background(), id); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("id %q: expected validation error, got %v", id, err)
		}
	}
	if _, err := env.host.GetPath(context.Background(), "no-triggers-segment"); !strings.Contains(err.Error(), "invalid trigger path") {
		t.Fatalf("expected invalid path error, got %v", err)
	}
}
