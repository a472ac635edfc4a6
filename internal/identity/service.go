package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrInvalidSubject indicates the token did not carry a usable subject.
var ErrInvalidSubject = errors.New("identity: invalid subject")

// ServiceConfig describes the dependencies for account resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	// AdminSubjects lists the subjects that resolve with the admin role.
	AdminSubjects []string
}

// Service maps authenticated subjects to stored accounts. Unknown subjects
// get a client account on first sight; resolved accounts are cached for the
// process lifetime.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	admins map[string]struct{}
	cache  sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	admins := make(map[string]struct{}, len(cfg.AdminSubjects))
	for _, subject := range cfg.AdminSubjects {
		if trimmed := normalize(subject); trimmed != "" {
			admins[trimmed] = struct{}{}
		}
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		admins: admins,
	}, nil
}

// Resolve returns the account for the subject, creating it with the client
// role when the subject has not been seen before. Email and display name are
// refreshed from the token when they change; configured administrators keep
// the admin role even if the stored row predates the configuration.
func (s *Service) Resolve(ctx context.Context, subject, email, displayName string) (Account, error) {
	subject = normalize(subject)
	if subject == "" {
		return Account{}, ErrInvalidSubject
	}

	if cached, ok := s.cache.Load(subject); ok {
		if account, ok := cached.(Account); ok {
			return account, nil
		}
	}

	role := RoleClient
	if _, ok := s.admins[subject]; ok {
		role = RoleAdmin
	}

	var account Account
	err := s.db.WithContext(ctx).
		Where("subject = ?", subject).
		First(&account).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = Account{
			Subject:     subject,
			Email:       normalize(email),
			DisplayName: normalize(displayName),
			Role:        role,
			CreatedAt:   s.now(),
			UpdatedAt:   s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
			return Account{}, err
		}
	} else if err != nil {
		return Account{}, err
	} else {
		updates := map[string]interface{}{}
		if value := normalize(email); value != "" && value != account.Email {
			updates["email"] = value
			account.Email = value
		}
		if value := normalize(displayName); value != "" && value != account.DisplayName {
			updates["display_name"] = value
			account.DisplayName = value
		}
		if role == RoleAdmin && account.Role != RoleAdmin {
			updates["role"] = RoleAdmin
			account.Role = RoleAdmin
		}
		if len(updates) > 0 {
			updates["updated_at"] = s.now()
			if err := s.db.WithContext(ctx).Model(&Account{}).
				Where("subject = ?", subject).
				Updates(updates).
				Error; err != nil {
				return Account{}, err
			}
		}
	}

	s.cache.Store(subject, account)
	return account, nil
}
