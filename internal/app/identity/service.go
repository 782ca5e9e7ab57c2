// Package identity holds the verification gateway (SMS one-time codes) and
// the profile directory that maps verified phone numbers to public handles.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/chrismeisner/makethetake/internal/domain"
	"github.com/chrismeisner/makethetake/internal/platform/ids"
)

const profileIDLength = 8

// Service wraps the OTP provider and the profile repository. The provider
// owns all code expiry and replay protection; this side only normalizes the
// number, forwards the request, and resolves profiles on approval.
type Service struct {
	profiles domain.ProfileRepository
	verifier domain.CodeVerifier
	throttle domain.Throttle
	ids      *ids.Generator
	logger   *slog.Logger
}

func NewService(
	profiles domain.ProfileRepository,
	verifier domain.CodeVerifier,
	throttle domain.Throttle,
	idsGen *ids.Generator,
	logger *slog.Logger,
) *Service {
	if idsGen == nil {
		idsGen = ids.DefaultGenerator()
	}
	return &Service{
		profiles: profiles,
		verifier: verifier,
		throttle: throttle,
		ids:      idsGen,
		logger:   logger,
	}
}

// NormalizePhone strips every non-digit and prefixes +1, a US-only
// assumption baked into the product. Input already carrying a leading + is
// treated as E.164 and only cleaned.
func NormalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	hasPlus := strings.HasPrefix(trimmed, "+")

	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	if hasPlus {
		return "+" + digits.String()
	}
	return "+1" + digits.String()
}

// SendCode requests an out-of-band SMS code for the normalized number.
// clientKey feeds the optional throttle (phone plus caller IP).
func (s *Service) SendCode(ctx context.Context, phoneRaw, clientKey string) error {
	phone := NormalizePhone(phoneRaw)

	if s.throttle != nil {
		if err := s.throttle.Allow(ctx, phone+"|"+clientKey); err != nil {
			return err
		}
	}

	if err := s.verifier.SendCode(ctx, phone); err != nil {
		return err
	}

	s.logger.Info("verification code sent", "phone", phone)
	return nil
}

// VerifyCode checks the submitted code; on approval it ensures a profile for
// the number and returns it. approved == false with a nil error means the
// code was simply wrong.
func (s *Service) VerifyCode(ctx context.Context, phoneRaw, code string) (domain.Profile, bool, error) {
	phone := NormalizePhone(phoneRaw)

	approved, err := s.verifier.CheckCode(ctx, phone, code)
	if err != nil {
		return domain.Profile{}, false, err
	}
	if !approved {
		return domain.Profile{}, false, nil
	}

	profile, err := s.EnsureProfile(ctx, phone)
	if err != nil {
		return domain.Profile{}, false, err
	}
	return profile, true, nil
}

// EnsureProfile is find-or-create by exact phone match: the same number must
// get the same profile back on every verified action. The mobile column is
// unique, so a lost creation race falls back to the winner's record.
func (s *Service) EnsureProfile(ctx context.Context, phoneE164 string) (domain.Profile, error) {
	existing, err := s.profiles.FindByMobile(ctx, phoneE164)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Profile{}, err
	}

	profile := domain.Profile{
		ID:        domain.RecordID(s.ids.New()),
		ProfileID: domain.ProfileID(ids.ShortID(profileIDLength)),
		Mobile:    phoneE164,
	}

	if createErr := s.profiles.Create(ctx, profile); createErr != nil {
		// A concurrent first interaction may have created the row between the
		// lookup and the insert; the unique index rejects ours, theirs wins.
		if winner, findErr := s.profiles.FindByMobile(ctx, phoneE164); findErr == nil {
			return winner, nil
		}
		return domain.Profile{}, createErr
	}

	s.logger.Info("profile created", "profileID", profile.ProfileID)
	return profile, nil
}

// ProfileByID resolves a public profile handle.
func (s *Service) ProfileByID(ctx context.Context, id domain.ProfileID) (domain.Profile, error) {
	return s.profiles.FindByProfileID(ctx, id)
}
