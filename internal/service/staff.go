package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/store"
	"github.com/thechillpixel0/tallyra/internal/validator"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
)

// VerifyLogin checks a shop passcode and returns the identity part of a
// session. Owners use the shop master passcode; staff are matched by their
// own passcode among the shop's active staff.
func (s *Service) VerifyLogin(ctx context.Context, req domain.LoginRequest) (domain.Session, error) {
	shopID := strings.TrimSpace(req.ShopID)
	passcode := strings.TrimSpace(req.Passcode)
	if shopID == "" || passcode == "" {
		return domain.Session{}, ErrInvalidCredentials
	}
	shop, err := s.repo.GetShop(ctx, shopID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.Session{}, err
	}

	switch req.Role {
	case domain.RoleOwner:
		if !checkPasscode(shop.MasterPasscodeHash, passcode) {
			return domain.Session{}, ErrInvalidCredentials
		}
		return domain.Session{ShopID: shop.ID, Role: domain.RoleOwner}, nil
	case domain.RoleStaff:
		members, err := s.repo.ListStaff(ctx, shop.ID)
		if err != nil {
			return domain.Session{}, err
		}
		for _, member := range members {
			if !checkPasscode(member.PasscodeHash, passcode) {
				continue
			}
			if !member.Active {
				return domain.Session{}, ErrInactiveAccount
			}
			return domain.Session{
				ShopID:    shop.ID,
				Role:      domain.RoleStaff,
				StaffID:   member.ID,
				StaffName: member.Name,
			}, nil
		}
		return domain.Session{}, ErrInvalidCredentials
	default:
		return domain.Session{}, ErrInvalidCredentials
	}
}

// StaffStillActive is consulted on every authenticated request so that
// deactivating a staff member ends their access immediately.
func (s *Service) StaffStillActive(ctx context.Context, session domain.Session) bool {
	if session.IsOwner() {
		return true
	}
	member, err := s.repo.GetStaff(ctx, session.StaffID)
	return err == nil && member.Active && member.ShopID == session.ShopID
}

func (s *Service) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (domain.Staff, error) {
	session, err := requireOwner(ctx)
	if err != nil {
		return domain.Staff{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if err := validator.Struct(req); err != nil {
		return domain.Staff{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	members, err := s.repo.ListStaff(ctx, session.ShopID)
	if err != nil {
		return domain.Staff{}, err
	}
	for _, member := range members {
		if checkPasscode(member.PasscodeHash, req.Passcode) {
			return domain.Staff{}, fmt.Errorf("%w: passcode already in use", store.ErrDuplicate)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Passcode), bcrypt.DefaultCost)
	if err != nil {
		return domain.Staff{}, fmt.Errorf("hash passcode: %w", err)
	}
	created, err := s.repo.CreateStaff(ctx, domain.Staff{
		ShopID:       session.ShopID,
		Name:         req.Name,
		PasscodeHash: string(hash),
		Phone:        strings.TrimSpace(req.Phone),
		Email:        req.Email,
		Active:       true,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return domain.Staff{}, err
	}
	s.log.Info().Str("shop_id", session.ShopID).Str("staff_id", created.ID).Msg("staff created")
	return *created, nil
}

func (s *Service) ListStaff(ctx context.Context) ([]domain.Staff, error) {
	session, err := requireOwner(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListStaff(ctx, session.ShopID)
}

func (s *Service) SetStaffActive(ctx context.Context, staffID string, active bool) (domain.Staff, error) {
	session, err := requireOwner(ctx)
	if err != nil {
		return domain.Staff{}, err
	}
	member, err := s.repo.GetStaff(ctx, staffID)
	if err != nil {
		return domain.Staff{}, err
	}
	if member.ShopID != session.ShopID {
		return domain.Staff{}, store.ErrNotFound
	}
	updated, err := s.repo.UpdateStaffActive(ctx, staffID, active)
	if err != nil {
		return domain.Staff{}, err
	}
	s.log.Info().Str("staff_id", staffID).Bool("active", active).Msg("staff status changed")
	return *updated, nil
}

func checkPasscode(hash string, passcode string) bool {
	if hash == "" || passcode == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passcode)) == nil
}
