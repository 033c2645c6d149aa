package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/LukasBrandt/PicSmith/app/models"
	"github.com/LukasBrandt/PicSmith/app/repository"
	"github.com/LukasBrandt/PicSmith/internal/pkg/env"
	"github.com/LukasBrandt/PicSmith/internal/pkg/ledger"
	"github.com/LukasBrandt/PicSmith/internal/pkg/plans"
	"gorm.io/gorm"
)

// ErrNoAccess means no admin match and no entitling access pass was found.
var ErrNoAccess = errors.New("no entitlement for user")

// TierPass binds a tier to the commerce platform access pass that grants it.
type TierPass struct {
	Tier   plans.Tier
	PassID string
}

// Config carries the identity allow-list and the access-pass priority order.
// It is always injected explicitly so resolvers can be built with fixture
// configurations in tests.
type Config struct {
	AdminUserIDs []string
	AgentUserID  string
	// TierPasses is checked in order; the first pass the user holds wins.
	TierPasses []TierPass
}

// ConfigFromEnv builds a resolver config from environment settings. The check
// order is fixed: starter, creator, pro, brand.
func ConfigFromEnv() Config {
	var admins []string
	for _, id := range strings.Split(env.GetEnv("ADMIN_USER_IDS", ""), ",") {
		if id = strings.TrimSpace(id); id != "" {
			admins = append(admins, id)
		}
	}

	cfg := Config{
		AdminUserIDs: admins,
		AgentUserID:  strings.TrimSpace(env.GetEnv("WHOP_AGENT_USER_ID", "")),
	}
	for _, tp := range []struct {
		tier plans.Tier
		key  string
	}{
		{plans.TierStarter, "WHOP_PASS_STARTER"},
		{plans.TierCreator, "WHOP_PASS_CREATOR"},
		{plans.TierPro, "WHOP_PASS_PRO"},
		{plans.TierBrand, "WHOP_PASS_BRAND"},
	} {
		if passID := strings.TrimSpace(env.GetEnv(tp.key, "")); passID != "" {
			cfg.TierPasses = append(cfg.TierPasses, TierPass{Tier: tp.tier, PassID: passID})
		}
	}
	return cfg
}

// IsAdmin reports whether the identity is on the allow-list or is the
// configured service agent.
func (c Config) IsAdmin(externalUserID string) bool {
	if externalUserID == "" {
		return false
	}
	if c.AgentUserID != "" && externalUserID == c.AgentUserID {
		return true
	}
	for _, id := range c.AdminUserIDs {
		if externalUserID == id {
			return true
		}
	}
	return false
}

// AccessChecker is the slice of the commerce platform client the resolver
// consults. A failing check degrades to "no access for that tier", never to a
// grant.
type AccessChecker interface {
	CheckAccessPass(ctx context.Context, userID, passID string) (bool, error)
	GetUserProfile(ctx context.Context, userID string) (email, displayName string, err error)
}

// SubscriberStore is the slice of the subscriber repository the resolver needs.
type SubscriberStore interface {
	GetByExternalUserID(externalUserID string) (*models.Subscriber, error)
	Create(sub *models.Subscriber) error
	UpdateTier(id uint, tier string, poolLimit int) error
	UpdateProfile(id uint, email, displayName string) error
}

// Resolution is the access decision for one user.
type Resolution struct {
	HasAccess  bool               `json:"has_access"`
	Tier       plans.Tier         `json:"tier,omitempty"`
	PoolLimit  int                `json:"pool_limit"`
	UsageCount int                `json:"usage_count"`
	Remaining  int                `json:"remaining"`
	Subscriber *models.Subscriber `json:"-"`
}

// Resolver determines the effective tier for a user identity.
type Resolver struct {
	cfg    Config
	client AccessChecker
	subs   SubscriberStore
	ledger *ledger.Service

	// now is swappable for tests.
	now func() time.Time
}

// NewResolver creates a resolver from an explicit config and injected collaborators.
func NewResolver(cfg Config, client AccessChecker, subs SubscriberStore, led *ledger.Service) *Resolver {
	return &Resolver{cfg: cfg, client: client, subs: subs, ledger: led, now: time.Now}
}

// NewResolverFromDB wires a resolver against the shared database handle.
func NewResolverFromDB(db *gorm.DB, cfg Config, client AccessChecker) *Resolver {
	return NewResolver(cfg, client, repository.NewSubscriberRepository(db), ledger.NewServiceFromDB(db))
}

// Resolve determines the effective tier for the given external user identity.
//
// Admin identities short-circuit without touching persistence. Everyone else
// is checked against the configured access passes in priority order; a single
// failed upstream check only disqualifies that tier. A resolved tier looks up
// or creates the subscriber row, applies a lazy cycle reset when the reset
// date has passed, and persists tier changes immediately (without resetting
// the usage counter).
func (r *Resolver) Resolve(ctx context.Context, externalUserID string) (*Resolution, error) {
	externalUserID = strings.TrimSpace(externalUserID)
	if externalUserID == "" {
		return nil, ErrNoAccess
	}

	if r.cfg.IsAdmin(externalUserID) {
		limits := plans.Limits(plans.TierAdmin)
		return &Resolution{
			HasAccess: true,
			Tier:      plans.TierAdmin,
			PoolLimit: limits.PoolLimit,
			Remaining: limits.PoolLimit,
		}, nil
	}

	resolved := plans.Tier("")
	for _, tp := range r.cfg.TierPasses {
		ok, err := r.client.CheckAccessPass(ctx, externalUserID, tp.PassID)
		if err != nil {
			// One partner outage must not sink the whole resolution.
			log.Printf("access check for tier %s failed for user %s: %v", tp.Tier, externalUserID, err)
			continue
		}
		if ok {
			resolved = tp.Tier
			break
		}
	}
	if resolved == "" {
		return &Resolution{HasAccess: false}, nil
	}

	sub, created, err := r.lookupOrCreate(ctx, externalUserID, resolved)
	if err != nil {
		return nil, err
	}
	if !created {
		r.refreshProfile(ctx, sub)
	}

	if _, err := r.ledger.ResetIfDue(sub, r.now()); err != nil {
		return nil, fmt.Errorf("lazy cycle reset: %w", err)
	}

	// A tier change takes effect immediately; the usage counter carries over.
	if sub.TierName() != string(resolved) {
		limit := plans.Limits(resolved).PoolLimit
		if err := r.subs.UpdateTier(sub.ID, string(resolved), limit); err != nil {
			return nil, err
		}
		tier := string(resolved)
		sub.Tier = &tier
		sub.PoolLimit = limit
	}

	return &Resolution{
		HasAccess:  true,
		Tier:       resolved,
		PoolLimit:  sub.PoolLimit,
		UsageCount: sub.UsageCount,
		Remaining:  sub.Remaining(),
		Subscriber: sub,
	}, nil
}

func (r *Resolver) lookupOrCreate(ctx context.Context, externalUserID string, tier plans.Tier) (*models.Subscriber, bool, error) {
	sub, err := r.subs.GetByExternalUserID(externalUserID)
	if err == nil {
		return sub, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	tierName := string(tier)
	sub = &models.Subscriber{
		ExternalUserID: externalUserID,
		Tier:           &tierName,
		PoolLimit:      plans.Limits(tier).PoolLimit,
		UsageCount:     0,
		ResetDate:      ledger.NextCalendarReset(r.now()),
	}

	// Profile mirror is opportunistic; a failed upstream lookup is not fatal.
	if email, name, perr := r.client.GetUserProfile(ctx, externalUserID); perr == nil {
		sub.Email = email
		sub.DisplayName = name
	} else {
		log.Printf("profile lookup for user %s failed: %v", externalUserID, perr)
	}

	if err := r.subs.Create(sub); err != nil {
		// A concurrent resolution may have created the row first.
		if existing, gerr := r.subs.GetByExternalUserID(externalUserID); gerr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return sub, true, nil
}

// refreshProfile mirrors the platform profile onto an existing row. The
// refresh is opportunistic: upstream or database failures are logged and never
// fail the resolution.
func (r *Resolver) refreshProfile(ctx context.Context, sub *models.Subscriber) {
	email, name, err := r.client.GetUserProfile(ctx, sub.ExternalUserID)
	if err != nil {
		log.Printf("profile refresh for user %s failed: %v", sub.ExternalUserID, err)
		return
	}
	if email == sub.Email && name == sub.DisplayName {
		return
	}
	if err := r.subs.UpdateProfile(sub.ID, email, name); err != nil {
		log.Printf("profile refresh for user %s failed: %v", sub.ExternalUserID, err)
		return
	}
	sub.Email = email
	sub.DisplayName = name
}
