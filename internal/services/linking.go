// Package services – LinkingService
//
// This file implements the account-linking challenge protocol. A user who is
// signed in to the task application requests a 6-character code; the code is
// typed into the chat platform, which calls LinkWithCode. Before that call
// can succeed, the owner must confirm the 4-digit challenge number (shown on
// the chat side) from inside the authenticated application session. The
// second factor proves the link is completed by someone with live account
// access, not merely someone who read the code in a chat log.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// user identifiers but never the code or challenge values.
package services

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/avelis/go-tasker-notify/internal/domain"
	"github.com/avelis/go-tasker-notify/internal/repo"
)

const (
	codeLength  = 6
	codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// Challenge numbers are uniform in [1000, 9999]: always four digits,
	// never zero-padded.
	challengeMin = 1000
	challengeMax = 9999

	defaultCodeTTL = 10 * time.Minute

	// Collisions in a 36^6 space are negligible; the loop guard exists so a
	// broken store cannot spin forever.
	maxGenerateAttempts = 5
)

// LinkingService owns the linking-code lifecycle and the identity map.
type LinkingService struct {
	DB *gorm.DB

	// CodeTTL overrides the 10 minute code lifetime (tests shrink it).
	CodeTTL time.Duration

	// Now injects the clock; nil means time.Now.
	Now func() time.Time
}

// CodeStatus is the polling view of a code, consumed by the chat side to
// learn when the owner has confirmed the challenge.
type CodeStatus struct {
	Verified bool `json:"verified"`
	Used     bool `json:"used"`
	Expired  bool `json:"expired"`
}

func (s *LinkingService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *LinkingService) ttl() time.Duration {
	if s.CodeTTL > 0 {
		return s.CodeTTL
	}
	return defaultCodeTTL
}

// GenerateCode creates a fresh linking code for an authenticated application
// user. The returned struct carries the code, the challenge number, and the
// expiry the UI should display.
func (s *LinkingService) GenerateCode(ctx context.Context, appUserID, appEmail string) (*domain.LinkingCode, error) {
	tr := otel.Tracer("services/LinkingService")
	ctx, span := tr.Start(ctx, "GenerateCode",
		trace.WithAttributes(attribute.String("user.id", appUserID)))
	defer span.End()

	if strings.TrimSpace(appUserID) == "" || strings.TrimSpace(appEmail) == "" {
		return nil, ErrInvalidInput
	}

	now := s.now()
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		code, err := randomCode()
		if err != nil {
			return nil, err
		}
		challenge, err := randomChallenge()
		if err != nil {
			return nil, err
		}

		// Regenerate on the (negligible) key collision.
		if existing, err := repo.GetLinkingCode(ctx, s.DB, code); err != nil {
			return nil, err
		} else if existing != nil {
			continue
		}

		lc := &domain.LinkingCode{
			Code:            code,
			AppUserID:       appUserID,
			AppEmail:        appEmail,
			ChallengeNumber: challenge,
			CreatedAt:       now,
			ExpiresAt:       now.Add(s.ttl()),
		}
		if err := repo.CreateLinkingCode(ctx, s.DB, lc); err != nil {
			return nil, err
		}
		return lc, nil
	}
	return nil, ErrCodeAllocation
}

// VerifyChallenge confirms the challenge number for a code. The caller must
// already be authenticated as the code's owner. Idempotent: re-verifying a
// verified, unconsumed code succeeds again.
func (s *LinkingService) VerifyChallenge(ctx context.Context, code string, challenge int, appUserID string) error {
	tr := otel.Tracer("services/LinkingService")
	ctx, span := tr.Start(ctx, "VerifyChallenge",
		trace.WithAttributes(attribute.String("user.id", appUserID)))
	defer span.End()

	lc, err := repo.GetLinkingCode(ctx, s.DB, normalizeCode(code))
	if err != nil {
		return err
	}
	if lc == nil {
		return ErrCodeNotFound
	}
	if lc.AppUserID != appUserID {
		return ErrNotCodeOwner
	}
	if lc.Expired(s.now()) {
		return ErrCodeExpired
	}
	if lc.Used {
		return ErrCodeUsed
	}
	if lc.ChallengeNumber != challenge {
		return ErrChallengeMismatch
	}
	return repo.MarkCodeVerified(ctx, s.DB, lc.Code)
}

// Status reports the polling view of a code. Unknown codes return
// ErrCodeNotFound.
func (s *LinkingService) Status(ctx context.Context, code string) (*CodeStatus, error) {
	lc, err := repo.GetLinkingCode(ctx, s.DB, normalizeCode(code))
	if err != nil {
		return nil, err
	}
	if lc == nil {
		return nil, ErrCodeNotFound
	}
	return &CodeStatus{
		Verified: lc.Verified,
		Used:     lc.Used,
		Expired:  lc.Expired(s.now()),
	}, nil
}

// LinkWithCode consumes a verified code and creates the identity link in one
// transaction, so a crash cannot leave the code spent without its link or the
// link created with the code still live. Any previous active link of the same
// application user is deactivated in the same transaction, keeping the
// one-active-link invariant at the storage layer.
func (s *LinkingService) LinkWithCode(ctx context.Context, code, chatUserID, chatUserName, chatEmail string) (*domain.IdentityLink, error) {
	tr := otel.Tracer("services/LinkingService")
	ctx, span := tr.Start(ctx, "LinkWithCode",
		trace.WithAttributes(attribute.String("chat.user_id", chatUserID)))
	defer span.End()

	if strings.TrimSpace(code) == "" || strings.TrimSpace(chatUserID) == "" {
		return nil, ErrInvalidInput
	}

	now := s.now()
	lc, err := repo.GetLinkingCode(ctx, s.DB, normalizeCode(code))
	if err != nil {
		return nil, err
	}
	if lc == nil {
		return nil, ErrCodeNotFound
	}
	if lc.Expired(now) {
		return nil, ErrCodeExpired
	}
	if lc.Used {
		return nil, ErrCodeUsed
	}
	if !lc.Verified {
		return nil, ErrCodeNotVerified
	}

	if existing, err := repo.GetActiveLink(ctx, s.DB, chatUserID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrAlreadyLinked
	}

	link := &domain.IdentityLink{
		ChatUserID:   chatUserID,
		ChatUserName: chatUserName,
		ChatEmail:    chatEmail,
		AppUserID:    lc.AppUserID,
		AppEmail:     lc.AppEmail,
		LinkedAt:     now,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := repo.ConsumeLinkingCode(tx, lc.Code, now)
		if err != nil {
			return err
		}
		if !won {
			return ErrCodeUsed
		}
		// A re-link from a new chat identity supersedes the old one.
		if _, err := repo.DeactivateLinks(ctx, tx, lc.AppUserID, now); err != nil {
			return err
		}
		return repo.UpsertActiveLink(tx, link)
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// Unlink deactivates every active link of an application user. Idempotent:
// the returned count is zero when there was nothing to do.
func (s *LinkingService) Unlink(ctx context.Context, appUserID string) (int64, error) {
	tr := otel.Tracer("services/LinkingService")
	ctx, span := tr.Start(ctx, "Unlink",
		trace.WithAttributes(attribute.String("user.id", appUserID)))
	defer span.End()

	if strings.TrimSpace(appUserID) == "" {
		return 0, ErrInvalidInput
	}
	return repo.DeactivateLinks(ctx, s.DB, appUserID, s.now())
}

// Lookup resolves a chat identity to its active link, or nil when unlinked.
func (s *LinkingService) Lookup(ctx context.Context, chatUserID string) (*domain.IdentityLink, error) {
	return repo.GetActiveLink(ctx, s.DB, chatUserID)
}

// PurgeExpiredCodes removes inert codes; meant to be called periodically.
func (s *LinkingService) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	return repo.PurgeExpiredCodes(ctx, s.DB, s.now())
}

// normalizeCode uppercases and trims user-typed codes.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// randomCode draws 6 characters uniformly from the uppercase alphanumeric
// charset using crypto/rand. Package variable so tests can force collisions.
var randomCode = func() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(codeCharset)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeCharset[n.Int64()])
	}
	return b.String(), nil
}

// randomChallenge draws a number uniformly from [1000, 9999].
func randomChallenge() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(challengeMax-challengeMin+1)))
	if err != nil {
		return 0, err
	}
	return challengeMin + int(n.Int64()), nil
}
