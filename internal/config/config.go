package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ServiceName           string
	StoreName             string
	Currency              string
	DeliveryDays          int
	SnapshotTTLSeconds    int
	CartTTLMinutes        int
	PaymentWindowMinutes  int
	AuthSecret            string
	AccessTokenTTLMinutes int
	GatewaySecret         string
	KafkaBrokers          []string
	NotificationTopic     string
	NotifyBufferSize      int
	ReceiptSpoolKey       string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		ServiceName:           getEnv("SERVICE_NAME", "storefront-backend"),
		StoreName:             getEnv("STORE_NAME", "Storefront"),
		Currency:              strings.ToUpper(getEnv("CURRENCY", "INR")),
		DeliveryDays:          getPositiveInt("DELIVERY_DAYS", 5),
		SnapshotTTLSeconds:    getPositiveInt("PRODUCT_SNAPSHOT_TTL_SECONDS", 30),
		CartTTLMinutes:        getPositiveInt("CART_TTL_MINUTES", 60*24),
		PaymentWindowMinutes:  getPositiveInt("PAYMENT_WINDOW_MINUTES", 15),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		GatewaySecret:         strings.TrimSpace(os.Getenv("PAYMENT_GATEWAY_SECRET")),
		KafkaBrokers:          splitCSV(os.Getenv("KAFKA_BROKERS")),
		NotificationTopic:     getEnv("NOTIFICATION_TOPIC", "storefront.notifications.v1"),
		NotifyBufferSize:      getPositiveInt("NOTIFY_BUFFER_SIZE", 1024),
		ReceiptSpoolKey:       getEnv("RECEIPT_SPOOL_KEY", "receipts:spool"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLSeconds) * time.Second
}

func (c Config) CartTTL() time.Duration {
	return time.Duration(c.CartTTLMinutes) * time.Minute
}

func (c Config) PaymentWindow() time.Duration {
	return time.Duration(c.PaymentWindowMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
