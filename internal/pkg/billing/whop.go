package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LukasBrandt/PicSmith/internal/pkg/env"
)

const defaultWhopAPIBaseURL = "https://api.whop.com/api/v2"

// ErrUpstreamUnavailable wraps network and server-side failures from the
// commerce platform. Callers treat it as "unknown / no access", never as an
// implicit grant.
var ErrUpstreamUnavailable = errors.New("commerce platform unavailable")

// WhopClient talks to the commerce platform API.
type WhopClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewWhopClientFromEnv builds a client from environment settings.
func NewWhopClientFromEnv() *WhopClient {
	return &WhopClient{
		APIKey:     strings.TrimSpace(env.GetEnv("WHOP_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("WHOP_API_BASE_URL", defaultWhopAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WhopMembership is the canonical membership detail from the platform API.
type WhopMembership struct {
	ID           string
	UserID       string
	AccessPassID string
	CompanyID    string
	Status       string
	Valid        bool
	ExpiresAt    *time.Time
}

// WhopOrder is the canonical order detail from the platform API.
type WhopOrder struct {
	ID           string
	UserID       string
	AmountCents  int64
	Currency     string
	Status       string
	MembershipID string
}

func (c *WhopClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status=%d body=%s", ErrUpstreamUnavailable, resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

// ErrNotFound means the platform has no record for the requested ID.
var ErrNotFound = errors.New("not found upstream")

// GetMembership fetches canonical membership details. The platform reports
// validity both as a status string and a boolean; both are surfaced so the
// applier can pick whichever the payload variant filled.
func (c *WhopClient) GetMembership(ctx context.Context, membershipID string) (*WhopMembership, error) {
	if strings.TrimSpace(membershipID) == "" {
		return nil, errors.New("membership id is required")
	}

	var raw struct {
		ID     string `json:"id"`
		UserID string `json:"user_id"`
		User   struct {
			ID string `json:"id"`
		} `json:"user"`
		AccessPassID  string `json:"access_pass_id"`
		PlanID        string `json:"plan_id"`
		CompanyID     string `json:"company_id"`
		Status        string `json:"status"`
		Valid         bool   `json:"valid"`
		RenewalPeriod string `json:"renewal_period_end"`
		ExpiresAtUnix int64  `json:"expires_at"`
	}
	if err := c.getJSON(ctx, "/memberships/"+membershipID, &raw); err != nil {
		return nil, err
	}

	m := &WhopMembership{
		ID:           strings.TrimSpace(raw.ID),
		UserID:       strings.TrimSpace(raw.UserID),
		AccessPassID: strings.TrimSpace(raw.AccessPassID),
		CompanyID:    strings.TrimSpace(raw.CompanyID),
		Status:       strings.TrimSpace(raw.Status),
		Valid:        raw.Valid,
	}
	if m.UserID == "" {
		m.UserID = strings.TrimSpace(raw.User.ID)
	}
	if m.AccessPassID == "" {
		m.AccessPassID = strings.TrimSpace(raw.PlanID)
	}
	if raw.ExpiresAtUnix > 0 {
		t := time.Unix(raw.ExpiresAtUnix, 0).UTC()
		m.ExpiresAt = &t
	} else if raw.RenewalPeriod != "" {
		if t, err := time.Parse(time.RFC3339, raw.RenewalPeriod); err == nil {
			m.ExpiresAt = &t
		}
	}
	if m.ID == "" {
		return nil, errors.New("membership response missing id")
	}
	return m, nil
}

// GetOrder fetches canonical order details.
func (c *WhopClient) GetOrder(ctx context.Context, orderID string) (*WhopOrder, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, errors.New("order id is required")
	}

	var raw struct {
		ID           string  `json:"id"`
		UserID       string  `json:"user_id"`
		Total        float64 `json:"final_amount"`
		Currency     string  `json:"currency"`
		Status       string  `json:"status"`
		MembershipID string  `json:"membership_id"`
	}
	if err := c.getJSON(ctx, "/orders/"+orderID, &raw); err != nil {
		return nil, err
	}
	return &WhopOrder{
		ID:           strings.TrimSpace(raw.ID),
		UserID:       strings.TrimSpace(raw.UserID),
		AmountCents:  toCents(raw.Total),
		Currency:     strings.ToLower(strings.TrimSpace(raw.Currency)),
		Status:       strings.TrimSpace(raw.Status),
		MembershipID: strings.TrimSpace(raw.MembershipID),
	}, nil
}

// CheckAccessPass reports whether the user currently holds the access pass.
// Upstream failures surface as errors so the resolver can degrade explicitly.
func (c *WhopClient) CheckAccessPass(ctx context.Context, userID, passID string) (bool, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(passID) == "" {
		return false, errors.New("user id and pass id are required")
	}

	var raw struct {
		HasAccess bool `json:"has_access"`
	}
	if err := c.getJSON(ctx, "/users/"+userID+"/access/"+passID, &raw); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return raw.HasAccess, nil
}

// GetUserProfile fetches the user's profile mirror fields.
func (c *WhopClient) GetUserProfile(ctx context.Context, userID string) (string, string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", "", errors.New("user id is required")
	}

	var raw struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Name     string `json:"name"`
	}
	if err := c.getJSON(ctx, "/users/"+userID, &raw); err != nil {
		return "", "", err
	}
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		name = strings.TrimSpace(raw.Username)
	}
	return strings.TrimSpace(raw.Email), name, nil
}
