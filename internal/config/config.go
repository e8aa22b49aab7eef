package config

import (
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ServerPort   string `mapstructure:"SERVER_PORT"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	JWTSecret    string `mapstructure:"JWT_SECRET"`
	ClientOrigin string `mapstructure:"CLIENT_ORIGIN"`
	StripeAPIKey string
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	RabbitMQURL   string `mapstructure:"RABBITMQ_URL"`
	OrderExchange string `mapstructure:"ORDER_EXCHANGE"`
	OrderQueue    string `mapstructure:"ORDER_QUEUE"`
	DelayExchange string `mapstructure:"DELAY_EXCHANGE"`

	AWSRegion       string `mapstructure:"AWS_REGION"`
	NotifyFromEmail string `mapstructure:"NOTIFY_FROM_EMAIL"`

	// Delivery state machine timing. All delays are measured from payment
	// confirmation except the delivered delay, which runs from dispatch.
	PreparingDelay      time.Duration `mapstructure:"PREPARING_DELAY"`
	OutForDeliveryDelay time.Duration `mapstructure:"OUT_FOR_DELIVERY_DELAY"`
	DeliverySLAPrepaid  time.Duration `mapstructure:"DELIVERY_SLA_PREPAID"`
	DeliverySLACOD      time.Duration `mapstructure:"DELIVERY_SLA_COD"`
	PaymentCheckDelay   time.Duration `mapstructure:"PAYMENT_CHECK_DELAY"`
}

func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("ORDER_EXCHANGE", "orders_exchange")
	viper.SetDefault("ORDER_QUEUE", "orders_queue")
	viper.SetDefault("DELAY_EXCHANGE", "delay_exchange")
	viper.SetDefault("PREPARING_DELAY", "30s")
	viper.SetDefault("OUT_FOR_DELIVERY_DELAY", "2m")
	viper.SetDefault("DELIVERY_SLA_PREPAID", "10m")
	viper.SetDefault("DELIVERY_SLA_COD", "24h")
	viper.SetDefault("PAYMENT_CHECK_DELAY", "15m")

	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		// Missing .env is fine; environment variables still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No .env file found.")
		} else {
			return nil, err
		}
	}

	var cfg Config
	err = viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	return &cfg, nil
}
