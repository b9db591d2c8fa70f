package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/toko-btcpay/internal/auth"
	"github.com/noah-isme/toko-btcpay/internal/channel"
	"github.com/noah-isme/toko-btcpay/internal/order"
	"github.com/noah-isme/toko-btcpay/internal/payment"
	"github.com/noah-isme/toko-btcpay/internal/repo"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}

	var (
		channelCode  = flag.String("channel", "default", "channel code to upsert")
		channelToken = flag.String("channel-token", envOr("DEFAULT_CHANNEL_TOKEN", "default-token"), "channel token sent by shops")
		currency     = flag.String("currency", "EUR", "channel default currency")
		methodCode   = flag.String("method", "btcpay", "payment method code")
		apiURL       = flag.String("btcpay-url", os.Getenv("BTCPAY_API_URL"), "BTCPay server base URL")
		apiKey       = flag.String("btcpay-api-key", os.Getenv("BTCPAY_API_KEY"), "BTCPay Greenfield API key")
		storeID      = flag.String("btcpay-store", os.Getenv("BTCPAY_STORE_ID"), "BTCPay store id")
		secret       = flag.String("btcpay-secret", os.Getenv("BTCPAY_WEBHOOK_SECRET"), "BTCPay webhook shared secret")
		redirect     = flag.String("redirect-url", os.Getenv("BTCPAY_REDIRECT_URL"), "storefront confirmation URL prefix")
		demoOrder    = flag.String("demo-order", "", "insert an order with this code in ArrangingPayment")
		adminToken   = flag.Bool("admin-token", false, "print an admin API token (needs SESSION_SECRET)")
	)
	flag.Parse()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := repo.Migrate(dbURL); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	pool, err := repo.Open(ctx, dbURL, "toko-btcpay-seeder")
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()

	ch, err := repo.ChannelStore{DB: pool}.Upsert(ctx, channel.Channel{
		Code:            *channelCode,
		Token:           *channelToken,
		DefaultCurrency: strings.ToUpper(*currency),
	})
	if err != nil {
		log.Fatalf("upsert channel: %v", err)
	}
	log.Printf("channel %s (%s) token=%s", ch.Code, ch.ID, ch.Token)

	args, err := json.Marshal(payment.MethodConfig{
		APIURL:       *apiURL,
		APIKey:       *apiKey,
		StoreID:      *storeID,
		SharedSecret: *secret,
		RedirectURL:  *redirect,
	})
	if err != nil {
		log.Fatalf("encode method args: %v", err)
	}
	missing := missingArgs(*apiURL, *apiKey, *storeID, *secret, *redirect)
	err = repo.PaymentMethodStore{DB: pool}.Upsert(ctx, payment.StoredMethod{
		ChannelID:   ch.ID,
		Code:        *methodCode,
		HandlerCode: payment.HandlerCode,
		Enabled:     len(missing) == 0,
		Args:        args,
	})
	if err != nil {
		log.Fatalf("upsert payment method: %v", err)
	}
	if len(missing) > 0 {
		log.Printf("payment method %s stored disabled; missing %s", *methodCode, strings.Join(missing, ", "))
	} else {
		log.Printf("payment method %s enabled for channel %s", *methodCode, ch.Code)
	}

	if *demoOrder != "" {
		ord := &order.Order{
			ChannelID:    ch.ID,
			Code:         *demoOrder,
			State:        order.StateArrangingPayment,
			CurrencyCode: ch.DefaultCurrency,
			TotalWithTax: 1050,
			Lines:        []order.Line{{SKU: "DEMO-1", Quantity: 1, UnitPriceWithTax: 850}},
			ShippingLines: []order.ShippingLine{
				{MethodCode: "standard", PriceWithTax: 200},
			},
		}
		if err := (repo.OrderStore{DB: pool}).Insert(ctx, ord); err != nil {
			log.Fatalf("insert demo order: %v", err)
		}
		log.Printf("demo order %s (%s) awaiting payment", ord.Code, ord.ID)
	}

	if *adminToken {
		sessions, err := auth.NewService(auth.Config{
			Secret: os.Getenv("SESSION_SECRET"),
			Issuer: envOr("SESSION_ISSUER", ""),
			TTL:    24 * time.Hour,
		})
		if err != nil {
			log.Fatalf("session service: %v", err)
		}
		sess, err := sessions.StartSession()
		if err != nil {
			log.Fatalf("start session: %v", err)
		}
		admin, err := sessions.Issue(sess.SessionID, auth.RoleAdmin)
		if err != nil {
			log.Fatalf("issue admin token: %v", err)
		}
		log.Printf("admin token (expires %s): %s", admin.ExpiresAt.Format(time.RFC3339), admin.Token)
	}

	log.Println("seeding completed")
}

func missingArgs(apiURL, apiKey, storeID, secret, redirect string) []string {
	fields := []struct{ name, value string }{
		{"apiUrl", apiURL},
		{"apiKey", apiKey},
		{"storeId", storeID},
		{"sharedSecret", secret},
		{"redirectUrl", redirect},
	}
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
