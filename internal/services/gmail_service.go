package services

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// EmailPreview is a header-level summary of one Gmail message.
type EmailPreview struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

// GmailService fetches message previews on behalf of the bearer of a Google
// access token. Plain read-only I/O; it never touches the ledger.
type GmailService struct{}

func NewGmailService() *GmailService {
	return &GmailService{}
}

// ListRecentMessages returns previews of the caller's most recent messages.
func (s *GmailService) ListRecentMessages(ctx context.Context, accessToken string, maxResults int64) ([]EmailPreview, error) {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	list, err := svc.Users.Messages.List("me").MaxResults(maxResults).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	previews := make([]EmailPreview, 0, len(list.Messages))
	for _, ref := range list.Messages {
		msg, err := svc.Users.Messages.Get("me", ref.Id).Do()
		if err != nil {
			// One unreadable message should not sink the whole listing.
			continue
		}

		preview := EmailPreview{
			ID:      ref.Id,
			Subject: "No Subject",
			Sender:  "Unknown Sender",
			Date:    "Unknown Date",
			Snippet: msg.Snippet,
		}
		if msg.Payload != nil {
			for _, header := range msg.Payload.Headers {
				switch header.Name {
				case "Subject":
					preview.Subject = header.Value
				case "From":
					preview.Sender = header.Value
				case "Date":
					preview.Date = header.Value
				}
			}
		}
		previews = append(previews, preview)
	}

	return previews, nil
}
