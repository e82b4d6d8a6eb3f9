package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spellforge/server/internal/ability"
	"spellforge/server/internal/cast"
	"spellforge/server/internal/config"
	"spellforge/server/internal/content"
	"spellforge/server/internal/runtime"
)

func testSettings(t *testing.T) *config.Config {
	t.Helper()
	settings, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	settings.Diagnostics.Enabled = false
	settings.Logging.Sinks = []string{"zap"}
	settings.Catalog.Paths = nil
	return settings
}

func newTestApp(t *testing.T, settings *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), Config{Settings: settings, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			t.Errorf("close app: %v", err)
		}
	})
	return a
}

func TestNewRequiresSettings(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without settings")
	}
}

func TestSparkThroughRuntime(t *testing.T) {
	a := newTestApp(t, testSettings(t))
	ctx := context.Background()
	actor := uuid.New()

	a.Join(actor)
	a.Runtime().Advance(ctx, 1)
	if !a.Presence().IsPresent(actor) {
		t.Fatalf("expected actor present after join")
	}

	if ok, reason := a.Runtime().Enqueue(runtime.Intent{Actor: actor, Ability: content.KeySpark}); !ok {
		t.Fatalf("enqueue rejected: %s", reason)
	}
	a.Runtime().Advance(ctx, 2)
	if got := a.Content().Sparks(actor); got != 1 {
		t.Fatalf("expected 1 spark, got %d", got)
	}
	if remaining := a.Cooldowns().Remaining(actor, content.KeySpark, 2); remaining != 40 {
		t.Fatalf("expected 40 ticks of cooldown, got %d", remaining)
	}

	outcome := a.Pipeline().AttemptCast(ctx, cast.Request{Actor: actor, Ability: content.KeySpark, Tick: 10})
	if outcome.Kind != cast.KindOnCooldown || outcome.RemainingTicks != 32 {
		t.Fatalf("expected on cooldown with 32 ticks, got %+v", outcome)
	}
	if a.Debug().SuccessfulCasts() != 1 {
		t.Fatalf("expected one recorded cast, got %d", a.Debug().SuccessfulCasts())
	}
}

type staticResolver struct{}

func (staticResolver) Resolve(key string) (ability.Descriptor, bool) {
	switch key {
	case "free":
		return ability.Descriptor{Key: key}, true
	case "slow":
		return ability.Descriptor{Key: key, CooldownTicks: 90}, true
	}
	return ability.Descriptor{}, false
}

func TestDefaultCooldownAppliesToUncooledAbilities(t *testing.T) {
	resolver := defaultCooldowns{resolver: staticResolver{}, ticks: 15}
	desc, ok := resolver.Resolve("free")
	if !ok || desc.CooldownTicks != 15 {
		t.Fatalf("expected default cooldown 15, got %+v", desc)
	}
	desc, _ = resolver.Resolve("slow")
	if desc.CooldownTicks != 90 {
		t.Fatalf("expected explicit cooldown kept, got %d", desc.CooldownTicks)
	}
	if _, ok := resolver.Resolve("missing"); ok {
		t.Fatalf("expected unknown ability to stay unresolved")
	}
}

func TestDeathEndsCloak(t *testing.T) {
	a := newTestApp(t, testSettings(t))
	ctx := context.Background()
	actor := uuid.New()

	a.Join(actor)
	a.Runtime().Advance(ctx, 1)
	outcome := a.Pipeline().AttemptCast(ctx, cast.Request{Actor: actor, Ability: content.KeyShadowCloak, Tick: 1})
	if !outcome.Succeeded() || outcome.ToggledActive == nil || !*outcome.ToggledActive {
		t.Fatalf("expected cloak activation, got %+v", outcome)
	}
	manager, ok := a.Toggles().Get(content.KeyShadowCloak)
	if !ok || !manager.IsActive(actor) {
		t.Fatalf("expected active cloak")
	}

	a.Death(actor)
	a.Runtime().Advance(ctx, 2)
	if manager.IsActive(actor) {
		t.Fatalf("expected cloak released on death")
	}
	if !a.Presence().IsPresent(actor) {
		t.Fatalf("death should keep the actor present")
	}
	if remaining := a.Cooldowns().Remaining(actor, content.KeyShadowCloak, 2); remaining != 0 {
		t.Fatalf("expected cooldowns cleared on death, got %d", remaining)
	}
}

func TestCooldownsSurviveReconnect(t *testing.T) {
	settings := testSettings(t)
	settings.Persistence.Enabled = true
	settings.Persistence.Path = filepath.Join(t.TempDir(), "data", "abilities.db")
	a := newTestApp(t, settings)
	ctx := context.Background()
	actor := uuid.New()

	a.Join(actor)
	a.Runtime().Advance(ctx, 1)
	if outcome := a.Pipeline().AttemptCast(ctx, cast.Request{Actor: actor, Ability: content.KeySpark, Tick: 1}); !outcome.Succeeded() {
		t.Fatalf("expected spark to succeed, got %+v", outcome)
	}

	a.Disconnect(actor)
	a.Runtime().Advance(ctx, 10)
	if a.Presence().IsPresent(actor) {
		t.Fatalf("expected actor gone after disconnect")
	}
	if err := a.Writer().Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	a.Join(actor)
	a.Runtime().Advance(ctx, 20)
	if err := a.Writer().Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	a.Runtime().Advance(ctx, 21)

	// 31 ticks were left at disconnect; they resume from tick 21.
	if remaining := a.Cooldowns().Remaining(actor, content.KeySpark, 21); remaining != 31 {
		t.Fatalf("expected 31 restored ticks, got %d", remaining)
	}

	entries, err := a.Store().RecentJournal(ctx, actor, 10)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	if len(entries) != 1 || entries[0].Ability != content.KeySpark || entries[0].Outcome != cast.KindSuccess.String() {
		t.Fatalf("unexpected journal %+v", entries)
	}
	if _, err := os.Stat(settings.Persistence.Path); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestCatalogOverridesCooldown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abilities.yaml")
	doc := "- key: spark\n  cooldownTicks: 5\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	settings := testSettings(t)
	settings.Catalog.Paths = []string{path}
	a := newTestApp(t, settings)
	ctx := context.Background()
	actor := uuid.New()

	if outcome := a.Pipeline().AttemptCast(ctx, cast.Request{Actor: actor, Ability: content.KeySpark, Tick: 1}); !outcome.Succeeded() {
		t.Fatalf("expected spark to succeed, got %+v", outcome)
	}
	if remaining := a.Cooldowns().Remaining(actor, content.KeySpark, 1); remaining != 5 {
		t.Fatalf("expected catalog cooldown 5, got %d", remaining)
	}

	if err := os.WriteFile(path, []byte("- key: spark\n  enabled: false\n"), 0o644); err != nil {
		t.Fatalf("rewrite catalog: %v", err)
	}
	if err := a.ReloadCatalog(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	outcome := a.Pipeline().AttemptCast(ctx, cast.Request{Actor: actor, Ability: content.KeySpark, Tick: 100})
	if outcome.Kind != cast.KindFailure || outcome.Reason != cast.ReasonUnknownAbility {
		t.Fatalf("expected disabled spark to be unknown, got %+v", outcome)
	}
}
