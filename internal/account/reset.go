package account

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/storage"
)

// RequestPasswordReset は再設定コードを発行する。
// アカウントが存在しない場合はUSER_NOT_FOUNDを返す。
// 同じメールアドレスの未使用コードは上書きされる（1メールにつき最大1件）。
func (a *LocalAPI) RequestPasswordReset(ctx context.Context, email string) (*model.ResetRecord, error) {
	email = model.NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}

	u, err := a.GetUserByLoginID(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}

	code, err := a.generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate reset code: %w", err)
	}
	rec := &model.ResetRecord{
		Code:      code,
		ExpiresAt: a.now().Add(a.config.ResetCodeTTL),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reset record: %w", err)
	}
	if err := a.kv.Set(ctx, storage.ResetKey(email), string(raw)); err != nil {
		return nil, fmt.Errorf("failed to write reset record: %w", err)
	}

	slog.Info("password reset requested",
		slog.String("login_id", email),
		slog.Time("expires_at", rec.ExpiresAt),
	)
	return rec, nil
}

// VerifyPasswordResetCode は再設定コードを検証する。
// 判定順: レコードなし → 期限切れ → コード不一致。
func (a *LocalAPI) VerifyPasswordResetCode(ctx context.Context, email, code string) error {
	email = model.NormalizeEmail(email)

	rec, err := a.loadResetRecord(ctx, email)
	if err != nil {
		return err
	}
	if rec == nil {
		return model.NewResetCodeNotFoundError()
	}
	if !a.now().Before(rec.ExpiresAt) {
		return model.NewResetCodeExpiredError()
	}
	if rec.Code != code {
		return model.NewResetCodeMismatchError()
	}
	return nil
}

// ConsumePasswordResetCode は再設定レコードを削除する。存在しない場合も成功する。
func (a *LocalAPI) ConsumePasswordResetCode(ctx context.Context, email string) error {
	if err := a.kv.Delete(ctx, storage.ResetKey(model.NormalizeEmail(email))); err != nil {
		return fmt.Errorf("failed to delete reset record: %w", err)
	}
	return nil
}

// ResetPassword はコードを検証してパスワードを更新し、コードを消費する。
func (a *LocalAPI) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = model.NormalizeEmail(email)

	if err := a.VerifyPasswordResetCode(ctx, email, code); err != nil {
		return err
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), a.config.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	a.mu.Lock()
	records, err := a.loadDirectory(ctx)
	if err == nil {
		i := findRecord(records, email)
		if i < 0 {
			err = model.NewUserNotFoundError()
		} else {
			records[i].PasswordHash = string(hash)
			err = a.saveDirectory(ctx, records)
		}
	}
	a.mu.Unlock()
	if err != nil {
		return err
	}

	slog.Info("password reset completed", slog.String("login_id", email))
	return a.ConsumePasswordResetCode(ctx, email)
}

// loadResetRecord は再設定レコードを読み込む。存在しない場合はnilを返す。
func (a *LocalAPI) loadResetRecord(ctx context.Context, email string) (*model.ResetRecord, error) {
	raw, ok, err := a.kv.Get(ctx, storage.ResetKey(email))
	if err != nil {
		return nil, fmt.Errorf("failed to read reset record: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var rec model.ResetRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode reset record: %w", err)
	}
	return &rec, nil
}

// generateResetCode は暗号的に安全な6桁の数字コードを生成する。
func generateResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
