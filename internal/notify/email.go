package notify

import (
	"context"
	"fmt"
	"strings"

	"track-and-trace/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

// EmailService sends transactional order emails through SES.
type EmailService struct {
	client *sesv2.Client
	from   string
}

func NewEmailService(ctx context.Context, region, from string) (*EmailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("notify: load aws config: %w", err)
	}
	return &EmailService{
		client: sesv2.NewFromConfig(cfg),
		from:   from,
	}, nil
}

// SendDelivered emails the delivery confirmation to the order's shipping
// contact.
func (s *EmailService) SendDelivered(ctx context.Context, order *models.Order) error {
	if order.ShippingInfo.Email == "" {
		return nil
	}

	subject := fmt.Sprintf("Your order %s has been delivered", shortID(order.ID))

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", order.ShippingInfo.FullName)
	b.WriteString("Your order has been delivered. Items:\n\n")
	for _, item := range order.Items {
		fmt.Fprintf(&b, "  %d x %s\n", item.Quantity, item.Name)
	}
	fmt.Fprintf(&b, "\nOrder total: %.2f\n", order.Total)
	if order.AssignedAgent != nil {
		fmt.Fprintf(&b, "Delivered by %s.\n", order.AssignedAgent.Name)
	}
	b.WriteString("\nThank you for shopping with us!\n")

	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{order.ShippingInfo.Email},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(b.String())},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: send delivered email for order %s: %w", order.ID, err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
