package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"image/png"
	"math/big"
	"strings"
	"time"

	"stockroom/internal/entity"
	"stockroom/internal/repository"
	"stockroom/internal/utils"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	backupCodeLength   = 8
	backupCodeCount    = 10
	totpPeriod         = 30
	totpSkew           = 2
	qrCodeSize         = 256
)

type TwoFactorSetup struct {
	Secret      string
	OTPAuthURL  string
	QRCode      string
	BackupCodes []string
}

type TwoFactorStatus struct {
	Enabled              bool
	Pending              bool
	EnabledAt            *time.Time
	BackupCodesRemaining int64
}

// TwoFactorManager handles TOTP enrollment and verification. Backup codes are
// stored as hashes and deleted on use.
type TwoFactorManager struct {
	states repository.TwoFactorRepository
	users  repository.UserRepository
	events *EventLog
	notify *NotificationDispatcher
	clock  Clock
	issuer string
}

func NewTwoFactorManager(
	states repository.TwoFactorRepository,
	users repository.UserRepository,
	events *EventLog,
	notify *NotificationDispatcher,
	clock Clock,
	issuer string,
) *TwoFactorManager {
	if strings.TrimSpace(issuer) == "" {
		issuer = "Stockroom"
	}
	return &TwoFactorManager{
		states: states,
		users:  users,
		events: events,
		notify: notify,
		clock:  clock,
		issuer: issuer,
	}
}

// GenerateSecret starts (or restarts) enrollment. The new secret and codes
// stay pending until VerifySetup accepts a code.
func (m *TwoFactorManager) GenerateSecret(ctx context.Context, userID uuid.UUID) (*TwoFactorSetup, error) {
	user, err := m.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, err := m.states.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Enabled {
		return nil, ErrTwoFactorEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: user.Username,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}
	codes, hashes, err := newBackupCodes(userID)
	if err != nil {
		return nil, err
	}
	state := &entity.TwoFactor{UserID: userID, Secret: key.Secret()}
	if err := m.states.SavePending(ctx, state, hashes); err != nil {
		return nil, err
	}
	qrCode, err := qrDataURL(key.URL())
	if err != nil {
		return nil, err
	}
	return &TwoFactorSetup{
		Secret:      key.Secret(),
		OTPAuthURL:  key.URL(),
		QRCode:      qrCode,
		BackupCodes: codes,
	}, nil
}

// VerifySetup enables two-factor once code matches the pending secret.
func (m *TwoFactorManager) VerifySetup(ctx context.Context, userID uuid.UUID, meta RequestMeta, code string) error {
	state, err := m.states.FindByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if state == nil {
		return ErrTwoFactorNotPending
	}
	if state.Enabled {
		return ErrTwoFactorEnabled
	}
	if !m.validTOTP(state.Secret, code) {
		m.events.Record(ctx, Event{Meta: meta, Action: entity.TwoFactorFailed, UserID: &userID, Details: map[string]any{"stage": "setup"}})
		return ErrInvalidTwoFactorCode
	}
	if err := m.states.Enable(ctx, userID, nowFrom(m.clock)); err != nil {
		return err
	}
	m.events.Record(ctx, Event{Meta: meta, Action: entity.TwoFactorEnabled, UserID: &userID})
	return nil
}

// VerifyLogin accepts a live TOTP code or, failing that, consumes a backup
// code. usedBackup reports which path succeeded.
func (m *TwoFactorManager) VerifyLogin(ctx context.Context, userID uuid.UUID, code string) (usedBackup bool, err error) {
	state, err := m.states.FindByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	if state == nil || !state.Enabled {
		return false, ErrTwoFactorNotEnabled
	}
	if m.validTOTP(state.Secret, code) {
		return false, nil
	}
	consumed, err := m.states.ConsumeBackupCode(ctx, userID, backupCodeHash(userID, code))
	if err != nil {
		return false, err
	}
	if !consumed {
		return false, ErrInvalidTwoFactorCode
	}
	return true, nil
}

// Disable removes two-factor after a valid TOTP or backup code.
func (m *TwoFactorManager) Disable(ctx context.Context, userID uuid.UUID, meta RequestMeta, code string) error {
	user, err := m.user(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := m.VerifyLogin(ctx, userID, code); err != nil {
		if errors.Is(err, ErrInvalidTwoFactorCode) {
			m.events.Record(ctx, Event{Meta: meta, Action: entity.TwoFactorFailed, UserID: &userID, Username: user.Username, Details: map[string]any{"stage": "disable"}})
		}
		return err
	}
	if err := m.states.Delete(ctx, userID); err != nil {
		return err
	}
	m.events.Record(ctx, Event{Meta: meta, Action: entity.TwoFactorDisabled, UserID: &userID, Username: user.Username})
	m.notify.Dispatch(twoFactorDisabledNotification(user.Email, meta.IPAddress))
	return nil
}

// RegenerateBackupCodes replaces the backup-code set. Only a live TOTP code is
// accepted so a leaked backup code cannot mint new ones.
func (m *TwoFactorManager) RegenerateBackupCodes(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	state, err := m.states.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if state == nil || !state.Enabled {
		return nil, ErrTwoFactorNotEnabled
	}
	if !m.validTOTP(state.Secret, code) {
		return nil, ErrInvalidTwoFactorCode
	}
	codes, hashes, err := newBackupCodes(userID)
	if err != nil {
		return nil, err
	}
	if err := m.states.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

func (m *TwoFactorManager) Status(ctx context.Context, userID uuid.UUID) (*TwoFactorStatus, error) {
	state, err := m.states.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return &TwoFactorStatus{}, nil
	}
	remaining, err := m.states.CountBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &TwoFactorStatus{
		Enabled:              state.Enabled,
		Pending:              !state.Enabled,
		EnabledAt:            state.EnabledAt,
		BackupCodesRemaining: remaining,
	}, nil
}

func (m *TwoFactorManager) IsEnabled(ctx context.Context, userID uuid.UUID) (bool, error) {
	state, err := m.states.FindByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	return state != nil && state.Enabled, nil
}

func (m *TwoFactorManager) validTOTP(secret string, code string) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, nowFrom(m.clock), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (m *TwoFactorManager) user(ctx context.Context, userID uuid.UUID) (*entity.User, error) {
	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func newBackupCodes(userID uuid.UUID) ([]string, []string, error) {
	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)
	limit := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < backupCodeCount; i++ {
		var b strings.Builder
		for j := 0; j < backupCodeLength; j++ {
			n, err := rand.Int(rand.Reader, limit)
			if err != nil {
				return nil, nil, err
			}
			b.WriteByte(backupCodeAlphabet[n.Int64()])
		}
		code := utils.NormalizeBackupCode(b.String())
		codes = append(codes, code)
		hashes = append(hashes, backupCodeHash(userID, code))
	}
	return codes, hashes, nil
}

func backupCodeHash(userID uuid.UUID, code string) string {
	sum := sha256.Sum256([]byte(userID.String() + "\x00" + utils.NormalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

func qrDataURL(content string) (string, error) {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return "", err
	}
	code, err = barcode.Scale(code, qrCodeSize, qrCodeSize)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
