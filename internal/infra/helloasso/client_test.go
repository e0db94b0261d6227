package helloasso

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"slotpay/internal/stories/payment"

	"github.com/stretchr/testify/require"
)

type fakeHelloAsso struct {
	t *testing.T

	mu          sync.Mutex
	grants      []string
	intentCalls atomic.Int32
	createCalls atomic.Int32
	lastCreate  map[string]any
	lastAuth    string

	// statusCodes are returned, in order, by the intent endpoint before it succeeds.
	statusCodes  []int
	createStatus int
	refreshFails bool
	paid         bool
}

func (f *fakeHelloAsso) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(f.t, r.ParseForm())
		grant := r.PostForm.Get("grant_type")

		f.mu.Lock()
		f.grants = append(f.grants, grant)
		n := len(f.grants)
		f.mu.Unlock()

		if grant == "refresh_token" && f.refreshFails {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		if grant == "client_credentials" {
			require.Equal(f.t, "client", r.PostForm.Get("client_id"))
			require.Equal(f.t, "secret", r.PostForm.Get("client_secret"))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-" + string(rune('0'+n)),
			"refresh_token": "refresh-" + string(rune('0'+n)),
			"token_type":    "bearer",
			"expires_in":    1800,
		})
	})

	mux.HandleFunc("POST /v5/organizations/asso/checkout-intents", func(w http.ResponseWriter, r *http.Request) {
		f.createCalls.Add(1)
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		f.mu.Unlock()
		require.NotEmpty(f.t, r.Header.Get("X-Request-ID"))

		if f.createStatus != 0 {
			http.Error(w, `{"errors":[{"message":"boom"}]}`, f.createStatus)
			return
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(f.t, json.Unmarshal(body, &payload))
		f.mu.Lock()
		f.lastCreate = payload
		f.mu.Unlock()

		_, _ = w.Write([]byte(`{"id": 4242, "redirectUrl": "https://checkout.helloasso.com/4242"}`))
	})

	mux.HandleFunc("GET /v5/organizations/asso/checkout-intents/{id}", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.intentCalls.Add(1))
		if n <= len(f.statusCodes) {
			w.WriteHeader(f.statusCodes[n-1])
			return
		}

		if !f.paid {
			_, _ = w.Write([]byte(`{"id": 4242, "metadata": {"order_id": "7"}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id": 4242,
			"metadata": {"order_id": "7", "slot": "12:00"},
			"order": {"id": 991, "amount": {"total": 1500}, "payments": [{"id": 1, "state": "Authorized"}]}
		}`))
	})

	return mux
}

func setupClient(t *testing.T, fake *fakeHelloAsso) *Client {
	t.Helper()
	fake.t = t

	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		BaseURL:          srv.URL,
		OrganizationSlug: "asso",
		ClientID:         "client",
		ClientSecret:     "secret",
		Timeout:          2 * time.Second,
		MaxRetries:       3,
		RetryBackoff:     time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestGetAccessTokenCaches(t *testing.T) {
	fake := &fakeHelloAsso{}
	c := setupClient(t, fake)
	ctx := context.Background()

	first, err := c.GetAccessToken(ctx)
	require.NoError(t, err)
	second, err := c.GetAccessToken(ctx)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, []string{"client_credentials"}, fake.grants)
}

func TestGetAccessTokenRefreshesBeforeExpiry(t *testing.T) {
	fake := &fakeHelloAsso{}
	c := setupClient(t, fake)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.GetAccessToken(ctx)
	require.NoError(t, err)

	// inside the five minute safety margin of a 30 minute token
	now = now.Add(26 * time.Minute)
	token, err := c.GetAccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-2", token)
	require.Equal(t, []string{"client_credentials", "refresh_token"}, fake.grants)
}

func TestGetAccessTokenFallsBackToClientCredentials(t *testing.T) {
	fake := &fakeHelloAsso{refreshFails: true}
	c := setupClient(t, fake)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.GetAccessToken(ctx)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	token, err := c.GetAccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-3", token)
	require.Equal(t, []string{"client_credentials", "refresh_token", "client_credentials"}, fake.grants)
}

func TestCreateCheckoutIntent(t *testing.T) {
	fake := &fakeHelloAsso{}
	c := setupClient(t, fake)

	intent, err := c.CreateCheckoutIntent(context.Background(), payment.CheckoutIntentRequest{
		TotalAmount: 1500,
		ItemName:    "Lunch 12:00",
		Payer:       payment.Payer{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		BackURL:     "https://lunch.example.org/order",
		ErrorURL:    "https://lunch.example.org/payment/error",
		ReturnURL:   "https://lunch.example.org/payment/success?order_id=7",
		Metadata:    map[string]string{"order_id": "7"},
	})
	require.NoError(t, err)
	require.Equal(t, "4242", intent.ID)
	require.Equal(t, "https://checkout.helloasso.com/4242", intent.RedirectURL)

	require.Equal(t, "Bearer access-1", fake.lastAuth)
	require.EqualValues(t, 1500, fake.lastCreate["totalAmount"])
	require.EqualValues(t, 1500, fake.lastCreate["initialAmount"])
	require.Equal(t, "Lunch 12:00", fake.lastCreate["itemName"])
	require.Equal(t, map[string]any{"order_id": "7"}, fake.lastCreate["metadata"])
	require.Equal(t, "ada@example.com", fake.lastCreate["payer"].(map[string]any)["email"])
}

func TestCreateCheckoutIntentIsNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "server error", status: http.StatusBadGateway, wantErr: payment.ErrGatewayUnavailable},
		{name: "rejected", status: http.StatusUnprocessableEntity, wantErr: payment.ErrGatewayRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeHelloAsso{createStatus: tt.status}
			c := setupClient(t, fake)

			_, err := c.CreateCheckoutIntent(context.Background(), payment.CheckoutIntentRequest{TotalAmount: 100})
			require.ErrorIs(t, err, tt.wantErr)

			var gwErr *payment.GatewayError
			require.ErrorAs(t, err, &gwErr)
			require.Equal(t, tt.status, gwErr.StatusCode)
			require.Equal(t, int32(1), fake.createCalls.Load())
		})
	}
}

func TestGetIntentStatus(t *testing.T) {
	fake := &fakeHelloAsso{}
	c := setupClient(t, fake)
	ctx := context.Background()

	status, err := c.GetIntentStatus(ctx, "4242")
	require.NoError(t, err)
	require.False(t, status.HasOrder)
	require.Equal(t, "7", status.Metadata["order_id"])

	fake.paid = true
	status, err = c.GetIntentStatus(ctx, "4242")
	require.NoError(t, err)
	require.True(t, status.HasOrder)
	require.Equal(t, "991", status.OrderID)
	require.Equal(t, "Authorized", status.State)
	require.Equal(t, int64(1500), status.Amount)
}

func TestGetIntentStatusRetries(t *testing.T) {
	tests := []struct {
		name      string
		codes     []int
		wantErr   error
		wantCalls int32
	}{
		{name: "recovers after 5xx", codes: []int{503, 500}, wantCalls: 3},
		{name: "recovers after 429", codes: []int{429}, wantCalls: 2},
		{name: "gives up after three attempts", codes: []int{503, 503, 503, 503}, wantErr: payment.ErrGatewayUnavailable, wantCalls: 3},
		{name: "4xx is not retried", codes: []int{404}, wantErr: payment.ErrGatewayRejected, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeHelloAsso{statusCodes: tt.codes, paid: true}
			c := setupClient(t, fake)

			status, err := c.GetIntentStatus(context.Background(), "4242")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.True(t, status.HasOrder)
			}
			require.Equal(t, tt.wantCalls, fake.intentCalls.Load())
		})
	}
}

func TestUnauthorizedDropsCachedToken(t *testing.T) {
	fake := &fakeHelloAsso{statusCodes: []int{http.StatusUnauthorized}, paid: true}
	c := setupClient(t, fake)

	status, err := c.GetIntentStatus(context.Background(), "4242")
	require.NoError(t, err)
	require.True(t, status.HasOrder)
	require.Equal(t, []string{"client_credentials", "refresh_token"}, fake.grants)
}

func TestParseWebhook(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name    string
		body    string
		want    payment.WebhookEvent
		wantErr bool
	}{
		{
			name: "payment with intent and metadata",
			body: `{"eventType":"Payment","data":{"id":55,"state":"Authorized","checkoutIntentId":4242,"order":{"id":991}},"metadata":{"order_id":"7"}}`,
			want: payment.WebhookEvent{EventType: "Payment", IntentID: "4242", OrderID: "991", State: "Authorized", Metadata: map[string]string{"order_id": "7"}},
		},
		{
			name: "metadata inside data",
			body: `{"eventType":"Order","data":{"id":991,"metadata":{"order_id":"8","slot":"12:00"}}}`,
			want: payment.WebhookEvent{EventType: "Order", OrderID: "991", Metadata: map[string]string{"order_id": "8", "slot": "12:00"}},
		},
		{
			name: "form event",
			body: `{"eventType":"Form","data":{"formSlug":"lunch"}}`,
			want: payment.WebhookEvent{EventType: "Form"},
		},
		{name: "missing event type", body: `{"data":{}}`, wantErr: true},
		{name: "not json", body: `eventType=Payment`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ParseWebhook([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, *got)
		})
	}
}
