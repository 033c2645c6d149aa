package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"github.com/LukasBrandt/PicSmith/app/models"
	"github.com/LukasBrandt/PicSmith/app/repository"
	"github.com/LukasBrandt/PicSmith/internal/pkg/env"
	"gorm.io/gorm"
)

// ErrBadSignature rejects payloads whose signature does not verify against
// the configured secret.
var ErrBadSignature = errors.New("webhook signature verification failed")

const providerWhop = "whop"

// PlatformFetcher fetches canonical entity details from the platform API.
// The applier prefers these over webhook-embedded fields and falls back to the
// webhook payload when a fetch fails.
type PlatformFetcher interface {
	GetMembership(ctx context.Context, membershipID string) (*WhopMembership, error)
	GetOrder(ctx context.Context, orderID string) (*WhopOrder, error)
}

// SubscriberStore is the slice of the subscriber repository the applier needs.
// The applier only ensures rows exist and mirrors profile data; it never
// touches usage counters or tiers (that is the resolver's job).
type SubscriberStore interface {
	GetByExternalUserID(externalUserID string) (*models.Subscriber, error)
	Create(sub *models.Subscriber) error
}

// ApplyResult reports what a webhook delivery did.
type ApplyResult struct {
	Accepted  bool
	Kind      EventKind
	Duplicate bool
	// UserID is set when the event concerned a specific platform user, so
	// callers can invalidate per-user caches.
	UserID string
}

// Applier consumes verified webhook events and applies idempotent state
// transitions to subscriber, membership, company and payment records.
type Applier struct {
	secret      string
	client      PlatformFetcher
	subs        SubscriberStore
	memberships repository.MembershipRepository
	payments    repository.PaymentRepository
	companies   repository.CompanyRepository
	events      repository.WebhookEventRepository

	now func() time.Time
}

// NewApplier creates an applier from injected collaborators. An empty secret
// disables signature verification; that is a development posture and must not
// be the production default.
func NewApplier(
	secret string,
	client PlatformFetcher,
	subs SubscriberStore,
	memberships repository.MembershipRepository,
	payments repository.PaymentRepository,
	companies repository.CompanyRepository,
	events repository.WebhookEventRepository,
) *Applier {
	return &Applier{
		secret:      secret,
		client:      client,
		subs:        subs,
		memberships: memberships,
		payments:    payments,
		companies:   companies,
		events:      events,
		now:         time.Now,
	}
}

// NewApplierFromDB wires an applier against the shared database handle with
// the webhook secret from the environment.
func NewApplierFromDB(db *gorm.DB, client PlatformFetcher) *Applier {
	repos := repository.NewRepositories(db)
	return NewApplier(
		env.GetEnv("WHOP_WEBHOOK_SECRET", ""),
		client,
		repos.Subscriber,
		repos.Membership,
		repos.Payment,
		repos.Company,
		repos.WebhookEvent,
	)
}

// Apply verifies, records and applies one webhook delivery. Replayed
// deliveries are acknowledged without reapplying; unrecognized event kinds
// are acknowledged and logged so the sender does not retry-storm us.
func (a *Applier) Apply(ctx context.Context, payload []byte, signatureHeader string) (*ApplyResult, error) {
	if a.secret != "" {
		if !VerifyWebhookSignature(payload, signatureHeader, a.secret) {
			return nil, ErrBadSignature
		}
	} else {
		log.Printf("webhook signature verification is DISABLED (no secret configured)")
	}

	ev, err := ParseEvent(payload)
	if err != nil {
		return nil, err
	}

	eventID := ev.EventID
	if eventID == "" {
		sum := sha256.Sum256(payload)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	created, stored, err := a.events.CreateIfNotExists(&models.WebhookEvent{
		Provider:        providerWhop,
		ProviderEventID: eventID,
		EventType:       ev.Action,
		PayloadJSON:     ev.RawJSON,
		SignatureValid:  a.secret != "",
	})
	if err != nil {
		return nil, err
	}
	if !created && stored.ProcessedAt != nil {
		return &ApplyResult{Accepted: true, Kind: ev.Kind, Duplicate: true, UserID: ev.UserID}, nil
	}

	applyErr := a.dispatch(ctx, ev)

	errMsg := ""
	if applyErr != nil {
		errMsg = applyErr.Error()
	}
	if err := a.events.MarkProcessed(stored.ID, errMsg); err != nil {
		log.Printf("failed to mark webhook event %d processed: %v", stored.ID, err)
	}
	if applyErr != nil {
		return nil, applyErr
	}

	return &ApplyResult{Accepted: true, Kind: ev.Kind, UserID: ev.UserID}, nil
}

func (a *Applier) dispatch(ctx context.Context, ev *Event) error {
	switch ev.Kind {
	case EventAppInstalled:
		return a.applyAppInstalled(ev)
	case EventAppUninstalled:
		return a.applyAppUninstalled(ev)
	case EventMembershipActivated:
		return a.applyMembershipActivated(ctx, ev)
	case EventMembershipDeactivated:
		return a.applyMembershipDeactivated(ev)
	case EventPaymentCompleted, EventPaymentFailed:
		return a.applyPayment(ctx, ev)
	default:
		log.Printf("unhandled webhook event action %q, acknowledged without applying", ev.Action)
		return nil
	}
}

func (a *Applier) applyAppInstalled(ev *Event) error {
	if ev.CompanyID == "" {
		return errors.New("app.installed payload missing company id")
	}
	return a.companies.Upsert(&models.Company{
		ExternalCompanyID: ev.CompanyID,
		InstalledAt:       a.now(),
	})
}

func (a *Applier) applyAppUninstalled(ev *Event) error {
	if ev.CompanyID == "" {
		return errors.New("app.uninstalled payload missing company id")
	}
	now := a.now()
	if err := a.companies.MarkUninstalled(ev.CompanyID, now); err != nil {
		return err
	}
	count, err := a.memberships.InvalidateByCompany(ev.CompanyID, now)
	if err != nil {
		return err
	}
	log.Printf("app uninstalled for company %s, invalidated %d memberships", ev.CompanyID, count)
	return nil
}

func (a *Applier) applyMembershipActivated(ctx context.Context, ev *Event) error {
	if ev.MembershipID == "" {
		return errors.New("membership event payload missing membership id")
	}

	// Prefer canonical details from the platform API; webhook-embedded
	// fields are the fallback when the fetch fails.
	userID := ev.UserID
	companyID := ev.CompanyID
	passID := ev.AccessPassID
	expiresAt := ev.ExpiresAt
	if m, err := a.client.GetMembership(ctx, ev.MembershipID); err == nil {
		if m.UserID != "" {
			userID = m.UserID
		}
		if m.CompanyID != "" {
			companyID = m.CompanyID
		}
		if m.AccessPassID != "" {
			passID = m.AccessPassID
		}
		if m.ExpiresAt != nil {
			expiresAt = m.ExpiresAt
		}
	} else {
		log.Printf("membership detail fetch for %s failed, using webhook fields: %v", ev.MembershipID, err)
	}
	if userID == "" {
		return errors.New("membership event has no resolvable user id")
	}

	sub, err := a.ensureSubscriber(userID)
	if err != nil {
		return err
	}

	return a.memberships.Upsert(&models.Membership{
		ExternalMembershipID: ev.MembershipID,
		SubscriberID:         sub.ID,
		ExternalCompanyID:    companyID,
		AccessPassID:         passID,
		Status:               models.MembershipStatusValid,
		ExpiresAt:            expiresAt,
		CanceledAt:           nil,
	})
}

func (a *Applier) applyMembershipDeactivated(ev *Event) error {
	if ev.MembershipID == "" {
		return errors.New("membership event payload missing membership id")
	}

	existing, err := a.memberships.GetByExternalID(ev.MembershipID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Deactivation for a membership we never saw: record it invalid
			// so the audit trail is complete.
			existing = &models.Membership{ExternalMembershipID: ev.MembershipID}
			if ev.UserID != "" {
				sub, serr := a.ensureSubscriber(ev.UserID)
				if serr != nil {
					return serr
				}
				existing.SubscriberID = sub.ID
			}
		} else {
			return err
		}
	}

	now := a.now()
	existing.Status = models.MembershipStatusInvalid
	if existing.CanceledAt == nil {
		existing.CanceledAt = &now
	}
	if ev.CompanyID != "" {
		existing.ExternalCompanyID = ev.CompanyID
	}
	return a.memberships.Upsert(existing)
}

func (a *Applier) applyPayment(ctx context.Context, ev *Event) error {
	if ev.PaymentID == "" {
		return errors.New("payment event payload missing payment id")
	}

	// Some payload variants omit the amount; fill the gaps from the canonical
	// order before recording.
	if ev.AmountCents == 0 {
		if ord, err := a.client.GetOrder(ctx, ev.PaymentID); err == nil && ord != nil {
			ev.AmountCents = ord.AmountCents
			if ev.Currency == "" {
				ev.Currency = ord.Currency
			}
			if ev.MembershipID == "" {
				ev.MembershipID = ord.MembershipID
			}
			if ev.UserID == "" {
				ev.UserID = ord.UserID
			}
		} else {
			log.Printf("order detail fetch for %s failed, using webhook fields: %v", ev.PaymentID, err)
		}
	}

	status := models.PaymentStatusSucceeded
	if ev.Kind == EventPaymentFailed {
		status = models.PaymentStatusFailed
	}

	p := &models.Payment{
		ExternalPaymentID:    ev.PaymentID,
		ExternalMembershipID: ev.MembershipID,
		AmountCents:          ev.AmountCents,
		Currency:             ev.Currency,
		Status:               status,
		Method:               ev.Method,
		OccurredAt:           a.now(),
	}
	if ev.UserID != "" {
		if sub, err := a.subs.GetByExternalUserID(ev.UserID); err == nil {
			p.SubscriberID = &sub.ID
		}
	}

	_, err := a.payments.UpsertByExternalID(p)
	return err
}

// ensureSubscriber looks up or creates the subscriber row for a platform
// user. Created rows carry no tier; entitlement resolution assigns one on the
// user's next billable request.
func (a *Applier) ensureSubscriber(externalUserID string) (*models.Subscriber, error) {
	sub, err := a.subs.GetByExternalUserID(externalUserID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	sub = &models.Subscriber{
		ExternalUserID: externalUserID,
		ResetDate:      nextMonthStart(a.now()),
	}
	if err := a.subs.Create(sub); err != nil {
		if existing, gerr := a.subs.GetByExternalUserID(externalUserID); gerr == nil {
			return existing, nil
		}
		return nil, err
	}
	return sub, nil
}

func nextMonthStart(now time.Time) time.Time {
	t := now.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
