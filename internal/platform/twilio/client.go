// Package twilio adapts the Twilio Verify v2 and Messages APIs to the
// CodeVerifier and Messenger ports.
package twilio

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	verify "github.com/twilio/twilio-go/rest/verify/v2"

	"github.com/chrismeisner/makethetake/internal/domain"
)

// Client wraps one Twilio REST client for both OTP verification and plain SMS.
type Client struct {
	rest       *twilio.RestClient
	verifySID  string
	fromNumber string
}

func NewClient(accountSID, authToken, verifySID, fromNumber string) *Client {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Client{
		rest:       rest,
		verifySID:  verifySID,
		fromNumber: fromNumber,
	}
}

func (c *Client) SendCode(ctx context.Context, toE164 string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &verify.CreateVerificationParams{}
	params.SetTo(toE164)
	params.SetChannel("sms")

	if _, err := c.rest.VerifyV2.CreateVerification(c.verifySID, params); err != nil {
		return fmt.Errorf("twilio verify: send code: %w", err)
	}
	return nil
}

func (c *Client) CheckCode(ctx context.Context, toE164, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(toE164)
	params.SetCode(code)

	resp, err := c.rest.VerifyV2.CreateVerificationCheck(c.verifySID, params)
	if err != nil {
		return false, fmt.Errorf("twilio verify: check code: %w", err)
	}

	return resp.Status != nil && *resp.Status == "approved", nil
}

func (c *Client) Send(ctx context.Context, msg domain.SMSMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(c.fromNumber)
	params.SetBody(msg.Body)

	if _, err := c.rest.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio messages: send: %w", err)
	}
	return nil
}

var (
	_ domain.CodeVerifier = (*Client)(nil)
	_ domain.Messenger    = (*Client)(nil)
)
