package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockroom/internal/entity"

	"github.com/google/uuid"
)

func TestSeniorAdminCannotBeTargeted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.createUser(t, "root", entity.UserRoleSeniorAdmin)
	other := h.createUser(t, "root2", entity.UserRoleSeniorAdmin)
	admin := h.createUser(t, "ops", entity.UserRoleAdmin)
	actor := actorFor(root)

	_, err := h.status.Suspend(ctx, actor, browserA, SuspendInput{UserID: other.ID, Reason: "test"})
	if !errors.Is(err, ErrProtectedAccount) {
		t.Fatalf("suspend senior admin: expected protected, got %v", err)
	}
	if _, err := h.status.Ban(ctx, actor, browserA, BanInput{UserID: other.ID, Reason: "test"}); !errors.Is(err, ErrProtectedAccount) {
		t.Fatalf("ban senior admin: expected protected, got %v", err)
	}
	if err := h.status.Delete(ctx, actor, browserA, other.ID); !errors.Is(err, ErrProtectedAccount) {
		t.Fatalf("delete senior admin: expected protected, got %v", err)
	}
	if _, err := h.status.Ban(ctx, actor, browserA, BanInput{UserID: root.ID, Reason: "test"}); !errors.Is(err, ErrSelfAction) {
		t.Fatalf("self ban: expected self action, got %v", err)
	}
	if _, err := h.status.Ban(ctx, actorFor(admin), browserA, BanInput{UserID: other.ID, Reason: "test"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("admin actor: expected forbidden, got %v", err)
	}
	if _, err := h.status.ChangeRole(ctx, actor, browserA, admin.ID, entity.UserRoleSeniorAdmin); !errors.Is(err, ErrProtectedAccount) {
		t.Fatalf("grant senior admin: expected protected, got %v", err)
	}
	if _, err := h.status.Ban(ctx, actor, browserA, BanInput{UserID: uuid.New(), Reason: "test"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown target: expected not found, got %v", err)
	}

	fresh := h.reload(t, other)
	if fresh.IsSuspended || fresh.IsBanned {
		t.Fatal("protected account state changed")
	}
}

func TestSuspensionBlocksLoginUntilExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.createUser(t, "root", entity.UserRoleSeniorAdmin)
	bob := h.createUser(t, "bob", entity.UserRoleUser)
	session := h.login(t, "bob", browserA)

	hours := 24
	suspended, err := h.status.Suspend(ctx, actorFor(root), browserB, SuspendInput{UserID: bob.ID, Reason: "spam", DurationHours: &hours})
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if !suspended.IsSuspended || suspended.SuspensionExpiresAt == nil {
		t.Fatalf("expected suspension to be stored, got %+v", suspended)
	}

	_, err = h.auth.Login(ctx, LoginInput{Username: "bob", Password: testPassword, Meta: browserA})
	var rejected *SuspendedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected suspended error, got %v", err)
	}
	if rejected.Reason != "spam" || rejected.ExpiresAt == nil {
		t.Fatalf("unexpected suspension details %+v", rejected)
	}
	if _, err := h.auth.Refresh(ctx, session.Tokens.RefreshToken, browserA); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected suspension to end the session, got %v", err)
	}

	h.clock.Advance(25 * time.Hour)
	h.login(t, "bob", browserA)
	if fresh := h.reload(t, bob); fresh.IsSuspended || fresh.SuspensionReason != nil {
		t.Fatal("expected expired suspension to be cleared")
	}

	h.notify.Wait()
	if sent := h.notifier.To(bob.Email); len(sent) != 1 {
		t.Fatalf("expected one suspension notice, got %d", len(sent))
	}
}

func TestSuspensionDefaultsToFourteenDays(t *testing.T) {
	h := newHarness(t)
	root := h.createUser(t, "root", entity.UserRoleSeniorAdmin)
	bob := h.createUser(t, "bob", entity.UserRoleUser)

	user, err := h.status.Suspend(context.Background(), actorFor(root), browserA, SuspendInput{UserID: bob.ID, Reason: "review"})
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	want := h.clock.Now().Add(DefaultSuspensionHours * time.Hour)
	if user.SuspensionExpiresAt == nil || !user.SuspensionExpiresAt.Equal(want) {
		t.Fatalf("expires at %v, want %v", user.SuspensionExpiresAt, want)
	}

	if _, err := h.status.Unsuspend(context.Background(), actorFor(root), browserA, bob.ID); err != nil {
		t.Fatalf("unsuspend: %v", err)
	}
	h.login(t, "bob", browserA)
}

func TestShortSuspensionExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.createUser(t, "root", entity.UserRoleSeniorAdmin)
	bob := h.createUser(t, "bob", entity.UserRoleUser)

	hours := 1
	if _, err := h.status.Suspend(ctx, actorFor(root), browserA, SuspendInput{UserID: bob.ID, Reason: "cool off", DurationHours: &hours}); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	h.clock.Advance(59 * time.Minute)
	if _, err := h.auth.Login(ctx, LoginInput{Username: "bob", Password: testPassword, Meta: browserA}); !errors.Is(err, ErrAccountSuspended) {
		t.Fatalf("expected still suspended, got %v", err)
	}
	h.clock.Advance(2 * time.Minute)
	h.login(t, "bob", browserA)
}

func TestBanBlocksLoginUntilUnbanned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.createUser(t, "root", entity.UserRoleSeniorAdmin)
	bob := h.createUser(t, "bob", entity.UserRoleUser)

	if _, err := h.status.Ban(ctx, actorFor(root), browserA, BanInput{UserID: bob.ID, Reason: "fraud"}); err != nil {
		t.Fatalf("ban: %v", err)
	}
	_, err := h.auth.Login(ctx, LoginInput{Username: "bob", Password: testPassword, Meta: browserA})
	var banned *BannedError
	if !errors.As(err, &banned) || banned.Reason != "fraud" {
		t.Fatalf("expected banned error, got %v", err)
	}

	h.clock.Advance(365 * 24 * time.Hour)
	if _, err := h.auth.Login(ctx, LoginInput{Username: "bob", Password: testPassword, Meta: browserA}); !errors.Is(err, ErrAccountBanned) {
		t.Fatalf("ban must not expire, got %v", err)
	}

	if _, err := h.status.Unban(ctx, actorFor(root), browserA, bob.ID); err != nil {
		t.Fatalf("unban: %v", err)
	}
	h.login(t, "bob", browserA)

	h.notify.Wait()
	if sent := h.notifier.To(bob.Email); len(sent) != 2 {
		t.Fatalf("expected ban and unban notices, got %d", len(sent))
	}
}

func TestChangeRoleAndDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.createUser(t, "root", entity.UserRoleSeniorAdmin)
	bob := h.createUser(t, "bob", entity.UserRoleUser)

	user, err := h.status.ChangeRole(ctx, actorFor(root), browserA, bob.ID, entity.UserRoleAdmin)
	if err != nil {
		t.Fatalf("change role: %v", err)
	}
	if user.Role != entity.UserRoleAdmin {
		t.Fatalf("role = %s", user.Role)
	}
	if _, err := h.status.ChangeRole(ctx, actorFor(root), browserA, bob.ID, entity.UserRole("owner")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown role: expected invalid input, got %v", err)
	}

	h.login(t, "bob", browserA)
	if err := h.status.Delete(ctx, actorFor(root), browserA, bob.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if found, _ := h.users.FindByID(ctx, bob.ID); found != nil {
		t.Fatal("expected user to be deleted")
	}
}
