package account

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/storage"
)

// LocalAPIConfig はLocalAPIの設定。
type LocalAPIConfig struct {
	ResetCodeTTL time.Duration // 再設定コードの有効期間（デフォルト10分）
	BcryptCost   int           // 0の場合はbcrypt.DefaultCost
	MockAccounts []MockAccount // nilの場合はDefaultMockAccounts
}

// LocalAPI は永続化アダプタ上のユーザーディレクトリでAuthAPIを実装する。
// ディレクトリはユーザーレコードのJSON配列として1キーに保存されるため、
// 読み込み→変更→保存の区間はmuで直列化する。
type LocalAPI struct {
	kv     storage.KVStore
	config LocalAPIConfig

	mu sync.Mutex

	now          func() time.Time
	generateCode func() (string, error)
}

// NewLocalAPI はLocalAPIを生成する。
func NewLocalAPI(kv storage.KVStore, config LocalAPIConfig) *LocalAPI {
	if config.ResetCodeTTL <= 0 {
		config.ResetCodeTTL = 10 * time.Minute
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	if config.MockAccounts == nil {
		config.MockAccounts = DefaultMockAccounts
	}
	return &LocalAPI{
		kv:           kv,
		config:       config,
		now:          time.Now,
		generateCode: generateResetCode,
	}
}

// Signup は新規ユーザーを登録する。
// 正規化済みメールアドレスが既に登録済みの場合はEMAIL_TAKENを返す。
func (a *LocalAPI) Signup(ctx context.Context, input model.SignupInput) (*model.User, error) {
	email := model.NormalizeEmail(input.Email)
	nickname := normalizeNickname(input.Nickname)

	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(input.Password); err != nil {
		return nil, err
	}
	if err := ValidateNickname(nickname); err != nil {
		return nil, err
	}
	if err := validateBirthDate(input.BirthDate, a.now()); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	records, err := a.loadDirectory(ctx)
	if err != nil {
		return nil, err
	}
	if findRecord(records, email) >= 0 {
		return nil, model.NewEmailTakenError()
	}

	rec, err := a.newRecord(email, input.Password, nickname, input.Gender, input.BirthDate)
	if err != nil {
		return nil, err
	}
	records = append(records, rec)
	if err := a.saveDirectory(ctx, records); err != nil {
		return nil, err
	}

	slog.Info("user signed up",
		slog.String("login_id", email),
		slog.String("user_id", rec.User.ID),
	)
	return rec.User.Clone(), nil
}

// Login はログインIDとパスワードで認証する。
func (a *LocalAPI) Login(ctx context.Context, loginID, password string) (*model.User, error) {
	loginID = model.NormalizeEmail(loginID)
	if err := ValidateEmail(loginID); err != nil {
		return nil, err
	}

	a.mu.Lock()
	records, err := a.loadDirectory(ctx)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	i := findRecord(records, loginID)
	if i < 0 {
		return nil, model.NewUserNotFoundError()
	}
	if err := bcrypt.CompareHashAndPassword([]byte(records[i].PasswordHash), []byte(password)); err != nil {
		slog.Warn("login rejected", slog.String("login_id", loginID))
		return nil, model.NewInvalidCredentialsError()
	}
	return records[i].User.Clone(), nil
}

// GetUserByLoginID はログインIDからユーザーを取得する。見つからない場合はnilを返す。
func (a *LocalAPI) GetUserByLoginID(ctx context.Context, loginID string) (*model.User, error) {
	loginID = model.NormalizeEmail(loginID)

	a.mu.Lock()
	records, err := a.loadDirectory(ctx)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	i := findRecord(records, loginID)
	if i < 0 {
		return nil, nil
	}
	return records[i].User.Clone(), nil
}

// UpdateUser はプロフィールを更新する。
// ニックネームはtrimして検証、性別は既知の値に正規化、アバターURLはtrimして保存する。
// 返り値は保存後の値で、呼び出し側の楽観的な値より優先される。
func (a *LocalAPI) UpdateUser(ctx context.Context, loginID string, patch model.ProfilePatch) (*model.User, error) {
	loginID = model.NormalizeEmail(loginID)

	normalized := model.ProfilePatch{}
	if patch.Nickname != nil {
		n := normalizeNickname(*patch.Nickname)
		if err := ValidateNickname(n); err != nil {
			return nil, err
		}
		normalized.Nickname = &n
	}
	if patch.Gender != nil {
		g := model.NormalizeGender(*patch.Gender)
		normalized.Gender = &g
	}
	if patch.BirthDate != nil {
		b := strings.TrimSpace(*patch.BirthDate)
		if err := validateBirthDate(b, a.now()); err != nil {
			return nil, err
		}
		normalized.BirthDate = &b
	}
	if patch.AvatarURL != nil {
		u := strings.TrimSpace(*patch.AvatarURL)
		normalized.AvatarURL = &u
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	records, err := a.loadDirectory(ctx)
	if err != nil {
		return nil, err
	}
	i := findRecord(records, loginID)
	if i < 0 {
		return nil, model.NewUserNotFoundError()
	}

	records[i].User = normalized.Apply(records[i].User)
	if err := a.saveDirectory(ctx, records); err != nil {
		return nil, err
	}
	return records[i].User.Clone(), nil
}

// GetCurrentLoginID は永続化された現在のログインIDを返す。
func (a *LocalAPI) GetCurrentLoginID(ctx context.Context) (string, bool, error) {
	v, ok, err := a.kv.Get(ctx, storage.KeyCurrentLoginID)
	if err != nil {
		return "", false, fmt.Errorf("failed to read current login id: %w", err)
	}
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// SetCurrentLoginID は現在のログインIDを永続化する。
func (a *LocalAPI) SetCurrentLoginID(ctx context.Context, loginID string) error {
	if err := a.kv.Set(ctx, storage.KeyCurrentLoginID, model.NormalizeEmail(loginID)); err != nil {
		return fmt.Errorf("failed to write current login id: %w", err)
	}
	return nil
}

// ClearCurrentLoginID は現在のログインIDを削除する。存在しない場合もエラーにしない。
func (a *LocalAPI) ClearCurrentLoginID(ctx context.Context) error {
	if err := a.kv.Delete(ctx, storage.KeyCurrentLoginID); err != nil {
		return fmt.Errorf("failed to clear current login id: %w", err)
	}
	return nil
}

// EnsureMockUsers はモックアカウントが存在しない場合のみ作成する（冪等）。
func (a *LocalAPI) EnsureMockUsers(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	records, err := a.loadDirectory(ctx)
	if err != nil {
		return err
	}

	created := 0
	for _, m := range a.config.MockAccounts {
		email := model.NormalizeEmail(m.Email)
		if findRecord(records, email) >= 0 {
			continue
		}
		rec, err := a.newRecord(email, m.Password, m.Nickname, m.Gender, "")
		if err != nil {
			return err
		}
		records = append(records, rec)
		created++
	}
	if created == 0 {
		return nil
	}

	if err := a.saveDirectory(ctx, records); err != nil {
		return err
	}
	slog.Info("mock accounts seeded", slog.Int("created", created))
	return nil
}

// newRecord はパスワードをハッシュ化してユーザーレコードを生成する。
func (a *LocalAPI) newRecord(email, password, nickname string, gender model.Gender, birthDate string) (model.UserRecord, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.config.BcryptCost)
	if err != nil {
		return model.UserRecord{}, fmt.Errorf("failed to hash password: %w", err)
	}
	return model.UserRecord{
		User: model.User{
			ID:        uuid.New().String(),
			LoginID:   email,
			Nickname:  nickname,
			Gender:    model.NormalizeGender(gender),
			BirthDate: birthDate,
		},
		PasswordHash: string(hash),
		CreatedAt:    a.now(),
	}, nil
}

// loadDirectory はユーザーディレクトリを読み込む。呼び出し側でmuを保持すること。
func (a *LocalAPI) loadDirectory(ctx context.Context) ([]model.UserRecord, error) {
	raw, ok, err := a.kv.Get(ctx, storage.KeyUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to read user directory: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var records []model.UserRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("failed to decode user directory: %w", err)
	}
	return records, nil
}

// saveDirectory はユーザーディレクトリを保存する。呼び出し側でmuを保持すること。
func (a *LocalAPI) saveDirectory(ctx context.Context, records []model.UserRecord) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode user directory: %w", err)
	}
	if err := a.kv.Set(ctx, storage.KeyUsers, string(raw)); err != nil {
		return fmt.Errorf("failed to write user directory: %w", err)
	}
	return nil
}

// findRecord は正規化済みログインIDに一致するレコードの位置を返す。見つからない場合は-1。
func findRecord(records []model.UserRecord, loginID string) int {
	for i := range records {
		if records[i].User.LoginID == loginID {
			return i
		}
	}
	return -1
}

// compile-time interface check
var _ AuthAPI = (*LocalAPI)(nil)
