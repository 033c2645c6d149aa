package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventClassification(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    EventKind
	}{
		{"membership went valid", `{"action":"membership.went_valid","data":{"id":"mem_1"}}`, EventMembershipActivated},
		{"membership renewed", `{"action":"membership.renewed","data":{"id":"mem_1"}}`, EventMembershipActivated},
		{"membership went invalid", `{"action":"membership.went_invalid","data":{"id":"mem_1"}}`, EventMembershipDeactivated},
		{"underscore variant", `{"action":"membership_went_invalid","data":{"id":"mem_1"}}`, EventMembershipDeactivated},
		{"payment succeeded", `{"action":"payment.succeeded","data":{"id":"pay_1"}}`, EventPaymentCompleted},
		{"payment failed", `{"action":"payment.failed","data":{"id":"pay_1"}}`, EventPaymentFailed},
		{"app installed", `{"action":"app.installed","data":{"company_id":"biz_1"}}`, EventAppInstalled},
		{"app uninstalled", `{"action":"app_uninstalled","data":{"company_id":"biz_1"}}`, EventAppUninstalled},
		{"action under event key", `{"event":"payment.succeeded","data":{"id":"pay_1"}}`, EventPaymentCompleted},
		{"action under type key", `{"type":"membership.went_valid","data":{"id":"mem_1"}}`, EventMembershipActivated},
		{"mixed case action", `{"action":"Payment.Succeeded","data":{"id":"pay_1"}}`, EventPaymentCompleted},
		{"unknown action is unhandled", `{"action":"dispute.created","data":{"id":"pay_1"}}`, EventUnhandled},
		{"no action payment prefix fallback", `{"data":{"id":"pay_9"}}`, EventPaymentCompleted},
		{"no action membership prefix fallback", `{"data":{"id":"mem_9"}}`, EventMembershipActivated},
		{"no action unknown prefix", `{"data":{"id":"usr_9"}}`, EventUnhandled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Kind)
		})
	}
}

func TestParseEventNestedDataWins(t *testing.T) {
	payload := []byte(`{
		"action": "membership.went_valid",
		"id": "evt_42",
		"user_id": "u_toplevel",
		"data": {
			"id": "mem_77",
			"user_id": "u_nested",
			"company_id": "biz_5",
			"plan_id": "pass_creator",
			"status": "Active",
			"expires_at": 1750000000
		}
	}`)

	ev, err := ParseEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, EventMembershipActivated, ev.Kind)
	assert.Equal(t, "evt_42", ev.EventID)
	assert.Equal(t, "mem_77", ev.MembershipID)
	assert.Equal(t, "u_nested", ev.UserID)
	assert.Equal(t, "biz_5", ev.CompanyID)
	assert.Equal(t, "pass_creator", ev.AccessPassID)
	assert.Equal(t, "active", ev.Status)
	require.NotNil(t, ev.ExpiresAt)
	assert.Equal(t, time.Unix(1750000000, 0).UTC(), *ev.ExpiresAt)
}

func TestParseEventTopLevelFallback(t *testing.T) {
	payload := []byte(`{
		"action": "membership.went_invalid",
		"id": "evt_43",
		"user": {"id": "u_1"},
		"membership_id": "mem_3"
	}`)

	ev, err := ParseEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, EventMembershipDeactivated, ev.Kind)
	assert.Equal(t, "u_1", ev.UserID)
	assert.Equal(t, "mem_3", ev.MembershipID)
}

func TestParseEventPaymentFields(t *testing.T) {
	payload := []byte(`{
		"action": "payment.succeeded",
		"id": "evt_44",
		"data": {
			"id": "pay_12",
			"membership_id": "mem_12",
			"user_id": "u_12",
			"final_amount": 24.99,
			"currency": "USD",
			"payment_method": "card"
		}
	}`)

	ev, err := ParseEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, EventPaymentCompleted, ev.Kind)
	assert.Equal(t, "pay_12", ev.PaymentID)
	assert.Equal(t, "mem_12", ev.MembershipID)
	assert.Equal(t, int64(2499), ev.AmountCents)
	assert.Equal(t, "usd", ev.Currency)
	assert.Equal(t, "card", ev.Method)
}

func TestParseEventRenewalPeriodEnd(t *testing.T) {
	payload := []byte(`{
		"action": "membership.went_valid",
		"data": {"id": "mem_1", "renewal_period_end": "2026-09-01T00:00:00Z"}
	}`)

	ev, err := ParseEvent(payload)
	require.NoError(t, err)
	require.NotNil(t, ev.ExpiresAt)
	assert.Equal(t, 2026, ev.ExpiresAt.Year())
	assert.Equal(t, time.September, ev.ExpiresAt.Month())
}

func TestParseEventInvalidJSON(t *testing.T) {
	_, err := ParseEvent([]byte(`{"action":`))
	assert.Error(t, err)
}
