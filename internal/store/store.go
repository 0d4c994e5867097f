package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/mailhook/mailhook/internal/hook"
)

// ErrDuplicate is returned when a hook email or domain name already exists.
var ErrDuplicate = errors.New("record already exists")

// ErrDomainNotFound is returned when a domain id does not exist.
var ErrDomainNotFound = errors.New("domain not found")

// uniqueViolationCode is the Postgres SQLSTATE for unique constraint violations.
const uniqueViolationCode = "23505"

// Store is the Postgres adapter behind the hook registry, the domain
// store and the delivery log. All pipeline-facing operations are single
// self-contained reads or row inserts; no cross-record transactions are
// needed.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New wraps a connected gorm handle.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// FindByEmail implements hook.Registry. The address is matched against
// the lowercase-normalized email key.
func (s *Store) FindByEmail(ctx context.Context, address string) (*hook.Hook, error) {
	var row hookModel
	err := s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(address)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, hook.ErrNotFound
		}
		return nil, err
	}
	h := row.toEntity()
	return &h, nil
}

// Append implements hook.DeliveryLog: one self-contained row insert per
// delivery attempt.
func (s *Store) Append(ctx context.Context, attempt hook.DeliveryAttempt) error {
	row := deliveryModel{
		ID:             uuid.NewString(),
		HookID:         attempt.HookID,
		FromAddress:    attempt.FromAddress,
		Subject:        attempt.Subject,
		Status:         attempt.Status,
		HTTPStatusCode: attempt.HTTPStatusCode,
		ErrorMessage:   attempt.ErrorMessage,
		CreatedAt:      time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// ListDeliveries returns the most recent delivery attempts, newest first.
func (s *Store) ListDeliveries(ctx context.Context, limit int) ([]hook.LoggedAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []deliveryModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}
	attempts := make([]hook.LoggedAttempt, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, row.toEntity())
	}
	return attempts, nil
}

// CreateHook registers a new hook. The email key is lowercased before
// storage; a duplicate email yields ErrDuplicate.
func (s *Store) CreateHook(ctx context.Context, h hook.Hook) (hook.Hook, error) {
	row := hookModel{
		ID:            uuid.NewString(),
		Email:         strings.ToLower(strings.TrimSpace(h.Email)),
		WebhookURL:    h.WebhookURL,
		WebhookSecret: h.WebhookSecret,
		IsEnabled:     h.IsEnabled,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return hook.Hook{}, ErrDuplicate
		}
		return hook.Hook{}, err
	}
	return row.toEntity(), nil
}

// GetHook fetches one hook by id.
func (s *Store) GetHook(ctx context.Context, id string) (hook.Hook, error) {
	var row hookModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return hook.Hook{}, hook.ErrNotFound
		}
		return hook.Hook{}, err
	}
	return row.toEntity(), nil
}

// ListHooks returns all registered hooks.
func (s *Store) ListHooks(ctx context.Context) ([]hook.Hook, error) {
	var rows []hookModel
	if err := s.db.WithContext(ctx).Order("email").Find(&rows).Error; err != nil {
		return nil, err
	}
	hooks := make([]hook.Hook, 0, len(rows))
	for _, row := range rows {
		hooks = append(hooks, row.toEntity())
	}
	return hooks, nil
}

// UpdateHook overwrites a hook's target, secret and enabled flag.
func (s *Store) UpdateHook(ctx context.Context, h hook.Hook) (hook.Hook, error) {
	res := s.db.WithContext(ctx).Model(&hookModel{}).
		Where("id = ?", h.ID).
		Updates(map[string]any{
			"email":          strings.ToLower(strings.TrimSpace(h.Email)),
			"webhook_url":    h.WebhookURL,
			"webhook_secret": h.WebhookSecret,
			"is_enabled":     h.IsEnabled,
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return hook.Hook{}, ErrDuplicate
		}
		return hook.Hook{}, res.Error
	}
	if res.RowsAffected == 0 {
		return hook.Hook{}, hook.ErrNotFound
	}
	return s.GetHook(ctx, h.ID)
}

// DeleteHook removes a hook by id.
func (s *Store) DeleteHook(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&hookModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return hook.ErrNotFound
	}
	return nil
}

// CreateDomain registers a custom mail domain, initially unverified.
func (s *Store) CreateDomain(ctx context.Context, name string) (hook.Domain, error) {
	row := domainModel{
		ID:   uuid.NewString(),
		Name: strings.ToLower(strings.TrimSpace(name)),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return hook.Domain{}, ErrDuplicate
		}
		return hook.Domain{}, err
	}
	return row.toEntity(), nil
}

// ListDomains returns all registered custom domains.
func (s *Store) ListDomains(ctx context.Context) ([]hook.Domain, error) {
	var rows []domainModel
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	domains := make([]hook.Domain, 0, len(rows))
	for _, row := range rows {
		domains = append(domains, row.toEntity())
	}
	return domains, nil
}

// VerifyDomain marks a domain as verified, admitting it into the
// allow-set on the next policy read.
func (s *Store) VerifyDomain(ctx context.Context, id string) (hook.Domain, error) {
	res := s.db.WithContext(ctx).Model(&domainModel{}).
		Where("id = ?", id).
		Update("verified", true)
	if res.Error != nil {
		return hook.Domain{}, res.Error
	}
	if res.RowsAffected == 0 {
		return hook.Domain{}, ErrDomainNotFound
	}

	var row domainModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return hook.Domain{}, err
	}
	return row.toEntity(), nil
}

// DeleteDomain removes a domain by id.
func (s *Store) DeleteDomain(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domainModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDomainNotFound
	}
	return nil
}

// VerifiedDomains implements hook.VerifiedDomainSource.
func (s *Store) VerifiedDomains(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).Model(&domainModel{}).
		Where("verified = ?", true).
		Pluck("name", &names).
		Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	return false
}
