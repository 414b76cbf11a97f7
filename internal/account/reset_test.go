package account

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/storage"
)

// fixedCodes は順番にコードを返すジェネレータを作る。
func fixedCodes(codes ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		c := codes[i%len(codes)]
		i++
		return c, nil
	}
}

func TestRequestPasswordReset_UnknownEmail_ReturnsUserNotFound(t *testing.T) {
	api, _ := newTestAPI(t)

	_, err := api.RequestPasswordReset(context.Background(), "nobody@example.com")
	if !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Fatalf("error = %v, want %s", err, model.ErrCodeUserNotFound)
	}
}

func TestRequestPasswordReset_StoresRecordUnderNormalizedEmail(t *testing.T) {
	api, kv := newTestAPI(t)
	signup(t, api, "runner@example.com")

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	api.now = func() time.Time { return now }

	rec, err := api.RequestPasswordReset(context.Background(), "  RUNNER@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset error = %v", err)
	}
	if !regexp.MustCompile(`^\d{6}$`).MatchString(rec.Code) {
		t.Errorf("code = %q, want 6 digits", rec.Code)
	}
	if !rec.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want %v", rec.ExpiresAt, now.Add(10*time.Minute))
	}
	if _, ok, _ := kv.Get(context.Background(), storage.ResetKey("runner@example.com")); !ok {
		t.Error("expected reset record under normalized email key")
	}
}

func TestResetCode_SecondRequestOverwritesFirst(t *testing.T) {
	api, _ := newTestAPI(t)
	signup(t, api, "runner@example.com")
	api.generateCode = fixedCodes("111111", "222222")
	ctx := context.Background()

	if _, err := api.RequestPasswordReset(ctx, "runner@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := api.RequestPasswordReset(ctx, "runner@example.com"); err != nil {
		t.Fatal(err)
	}

	// 最初のコードは「存在しない」ではなく「不一致」になる
	if err := api.VerifyPasswordResetCode(ctx, "runner@example.com", "111111"); !model.HasCode(err, model.ErrCodeResetCodeMismatch) {
		t.Errorf("first code error = %v, want %s", err, model.ErrCodeResetCodeMismatch)
	}
	if err := api.VerifyPasswordResetCode(ctx, "runner@example.com", "222222"); err != nil {
		t.Errorf("second code error = %v, want nil", err)
	}
}

func TestVerifyPasswordResetCode_OrderedFailures(t *testing.T) {
	api, _ := newTestAPI(t)
	signup(t, api, "runner@example.com")
	api.generateCode = fixedCodes("123456")
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	api.now = func() time.Time { return now }

	// レコードなし
	if err := api.VerifyPasswordResetCode(ctx, "runner@example.com", "123456"); !model.HasCode(err, model.ErrCodeResetCodeNotFound) {
		t.Errorf("no record error = %v", err)
	}

	if _, err := api.RequestPasswordReset(ctx, "runner@example.com"); err != nil {
		t.Fatal(err)
	}

	// 期限切れは不一致より先に判定される
	api.now = func() time.Time { return now.Add(10*time.Minute + time.Second) }
	if err := api.VerifyPasswordResetCode(ctx, "runner@example.com", "000000"); !model.HasCode(err, model.ErrCodeResetCodeExpired) {
		t.Errorf("expired error = %v", err)
	}

	api.now = func() time.Time { return now.Add(9 * time.Minute) }
	if err := api.VerifyPasswordResetCode(ctx, "runner@example.com", "000000"); !model.HasCode(err, model.ErrCodeResetCodeMismatch) {
		t.Errorf("mismatch error = %v", err)
	}
	if err := api.VerifyPasswordResetCode(ctx, "runner@example.com", "123456"); err != nil {
		t.Errorf("valid code error = %v", err)
	}
}

func TestConsumePasswordResetCode_Idempotent(t *testing.T) {
	api, _ := newTestAPI(t)
	signup(t, api, "runner@example.com")
	ctx := context.Background()

	if _, err := api.RequestPasswordReset(ctx, "runner@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := api.ConsumePasswordResetCode(ctx, "runner@example.com"); err != nil {
		t.Fatalf("Consume error = %v", err)
	}
	if err := api.ConsumePasswordResetCode(ctx, "runner@example.com"); err != nil {
		t.Fatalf("second Consume error = %v", err)
	}
	if err := api.VerifyPasswordResetCode(ctx, "runner@example.com", "anything"); !model.HasCode(err, model.ErrCodeResetCodeNotFound) {
		t.Errorf("after consume error = %v", err)
	}
}

func TestResetPassword_ChangesPasswordAndConsumesCode(t *testing.T) {
	api, _ := newTestAPI(t)
	signup(t, api, "runner@example.com")
	api.generateCode = fixedCodes("654321")
	ctx := context.Background()

	if _, err := api.RequestPasswordReset(ctx, "runner@example.com"); err != nil {
		t.Fatal(err)
	}
	if err := api.ResetPassword(ctx, "runner@example.com", "654321", "short"); !model.HasCode(err, model.ErrCodePasswordTooShort) {
		t.Fatalf("short password error = %v", err)
	}
	if err := api.ResetPassword(ctx, "runner@example.com", "654321", "new-password-99"); err != nil {
		t.Fatalf("ResetPassword error = %v", err)
	}

	if _, err := api.Login(ctx, "runner@example.com", "password1234"); !model.HasCode(err, model.ErrCodeInvalidCredentials) {
		t.Errorf("old password error = %v", err)
	}
	if _, err := api.Login(ctx, "runner@example.com", "new-password-99"); err != nil {
		t.Errorf("new password login error = %v", err)
	}
	if err := api.VerifyPasswordResetCode(ctx, "runner@example.com", "654321"); !model.HasCode(err, model.ErrCodeResetCodeNotFound) {
		t.Errorf("code should be consumed, got %v", err)
	}
}

func TestGenerateResetCode_SixDigits(t *testing.T) {
	re := regexp.MustCompile(`^\d{6}$`)
	for i := 0; i < 50; i++ {
		c, err := generateResetCode()
		if err != nil {
			t.Fatal(err)
		}
		if !re.MatchString(c) {
			t.Fatalf("code = %q, want 6 digits", c)
		}
	}
}
