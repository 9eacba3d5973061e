package mvola

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Environment selects the MVola host.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

const (
	sandboxBaseURL    = "https://devapi.mvola.mg"
	productionBaseURL = "https://api.mvola.mg"

	tokenPath       = "/token"
	merchantPayPath = "/mvola/mm/transactions/type/merchantpay/1.0.0/"

	// DefaultScope is the OAuth scope granted to merchant-pay partners.
	DefaultScope = "EXT_INT_MVOLA_SCOPE"
)

// ParseEnvironment accepts "sandbox" or "production" in any case.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(strings.ToLower(strings.TrimSpace(s))) {
	case Sandbox, "":
		return Sandbox, nil
	case Production:
		return Production, nil
	default:
		return "", fmt.Errorf("unknown mvola environment %q", s)
	}
}

// BaseURL returns the API host for the environment.
func (e Environment) BaseURL() string {
	if e == Production {
		return productionBaseURL
	}
	return sandboxBaseURL
}

// Credentials identify the partner. They are immutable once built; the
// fields are unexported and only readable through accessors.
type Credentials struct {
	consumerKey    string
	consumerSecret string
	partnerName    string
	partnerMSISDN  string
	environment    Environment
}

// NewCredentials validates and freezes the partner identity.
func NewCredentials(consumerKey, consumerSecret, partnerName, partnerMSISDN string, env Environment) (Credentials, error) {
	consumerKey = strings.TrimSpace(consumerKey)
	consumerSecret = strings.TrimSpace(consumerSecret)
	partnerName = strings.TrimSpace(partnerName)
	partnerMSISDN = strings.TrimSpace(partnerMSISDN)

	if consumerKey == "" || consumerSecret == "" {
		return Credentials{}, errors.New("consumer key and consumer secret are required")
	}
	if partnerName == "" || partnerMSISDN == "" {
		return Credentials{}, errors.New("partner name and partner msisdn are required")
	}
	if env == "" {
		env = Sandbox
	}
	if env != Sandbox && env != Production {
		return Credentials{}, fmt.Errorf("unknown mvola environment %q", env)
	}

	return Credentials{
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		partnerName:    partnerName,
		partnerMSISDN:  partnerMSISDN,
		environment:    env,
	}, nil
}

func (c Credentials) PartnerName() string { return c.partnerName }
func (c Credentials) PartnerMSISDN() string { return c.partnerMSISDN }
func (c Credentials) Environment() Environment { return c.environment }
func (c Credentials) ConsumerKey() string { return c.consumerKey }

// basicAuth builds the Authorization header value for the token endpoint.
func (c Credentials) basicAuth() string {
	raw := c.consumerKey + ":" + c.consumerSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}
