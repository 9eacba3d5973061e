package mvola

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"unicode/utf8"
)

const (
	DefaultMinAmount        = 100
	MaxDescriptionLength    = 50
	DefaultCurrency         = "Ar"
	SandboxDebitTestMSISDN  = "0343500003"
	SandboxCreditTestMSISDN = "0343500004"
)

var (
	descriptionPattern     = regexp.MustCompile(`^[\p{L}\p{N} .,'_\-]+$`)
	msisdnPattern          = regexp.MustCompile(`^03[2-9][0-9]{7}$`)
	foreignCurrencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// ValidationRules configures the business constraints applied to payments.
type ValidationRules struct {
	MinAmount  int64
	Currencies []string
	// SandboxMSISDNs, when non-empty, restricts both parties to these numbers.
	SandboxMSISDNs []string
}

// DefaultRules returns the rules for env. The sandbox pair restriction is only
// enabled for the sandbox environment.
func DefaultRules(env Environment) ValidationRules {
	rules := ValidationRules{
		MinAmount:  DefaultMinAmount,
		Currencies: []string{DefaultCurrency},
	}
	if env == Sandbox {
		rules.SandboxMSISDNs = []string{SandboxDebitTestMSISDN, SandboxCreditTestMSISDN}
	}
	return rules
}

// Validator checks a PaymentRequest without side effects. It stops at the
// first broken rule, checked in a fixed order: amount, currency, description,
// debit msisdn, credit msisdn, sandbox numbers, distinct parties, foreign
// currency pair, callback URL.
type Validator struct {
	rules ValidationRules
}

// NewValidator builds a Validator; zero-valued rule fields fall back to defaults.
func NewValidator(rules ValidationRules) *Validator {
	if rules.MinAmount <= 0 {
		rules.MinAmount = DefaultMinAmount
	}
	if len(rules.Currencies) == 0 {
		rules.Currencies = []string{DefaultCurrency}
	}
	return &Validator{rules: rules}
}

// Validate returns a *ValidationError for the first rule req breaks.
func (v *Validator) Validate(req PaymentRequest) error {
	if req.Amount <= 0 || req.Amount < v.rules.MinAmount {
		return invalid(RuleAmountMinimum, "amount",
			fmt.Sprintf("amount %d is below the minimum of %d", req.Amount, v.rules.MinAmount))
	}
	if !slices.Contains(v.rules.Currencies, req.Currency) {
		return invalid(RuleCurrency, "currency", fmt.Sprintf("currency %q is not accepted", req.Currency))
	}
	if err := validateDescription(req.Description); err != nil {
		return err
	}
	if !msisdnPattern.MatchString(req.DebitMSISDN) {
		return invalid(RuleMSISDNFormat, "debit_msisdn", fmt.Sprintf("%q is not a valid msisdn", req.DebitMSISDN))
	}
	if !msisdnPattern.MatchString(req.CreditMSISDN) {
		return invalid(RuleMSISDNFormat, "credit_msisdn", fmt.Sprintf("%q is not a valid msisdn", req.CreditMSISDN))
	}
	if len(v.rules.SandboxMSISDNs) > 0 {
		if !slices.Contains(v.rules.SandboxMSISDNs, req.DebitMSISDN) {
			return invalid(RuleSandboxMSISDN, "debit_msisdn", fmt.Sprintf("%q is not a sandbox test number", req.DebitMSISDN))
		}
		if !slices.Contains(v.rules.SandboxMSISDNs, req.CreditMSISDN) {
			return invalid(RuleSandboxMSISDN, "credit_msisdn", fmt.Sprintf("%q is not a sandbox test number", req.CreditMSISDN))
		}
	}
	if req.DebitMSISDN == req.CreditMSISDN {
		return invalid(RuleDistinctParties, "credit_msisdn", "debit and credit msisdn must differ")
	}
	if err := validateForeign(req); err != nil {
		return err
	}
	if req.CallbackURL != "" {
		if err := validateCallbackURL(req.CallbackURL); err != nil {
			return err
		}
	}
	return nil
}

func validateDescription(desc string) error {
	if desc == "" {
		return invalid(RuleDescriptionRequired, "description", "description is required")
	}
	if n := utf8.RuneCountInString(desc); n > MaxDescriptionLength {
		return invalid(RuleDescriptionLength, "description",
			fmt.Sprintf("description has %d characters, maximum is %d", n, MaxDescriptionLength))
	}
	if !descriptionPattern.MatchString(desc) {
		return invalid(RuleDescriptionCharset, "description", "description contains characters outside the allowed set")
	}
	return nil
}

func validateForeign(req PaymentRequest) error {
	hasCurrency := req.ForeignCurrency != ""
	hasAmount := req.ForeignAmount != nil
	if hasCurrency != hasAmount {
		return invalid(RuleForeignPair, "foreign_currency", "foreign currency and foreign amount must be given together")
	}
	if !hasCurrency {
		return nil
	}
	if !foreignCurrencyPattern.MatchString(req.ForeignCurrency) {
		return invalid(RuleForeignCurrency, "foreign_currency",
			fmt.Sprintf("%q is not an ISO 4217 code", req.ForeignCurrency))
	}
	if !req.ForeignAmount.IsPositive() {
		return invalid(RuleForeignAmount, "foreign_amount", "foreign amount must be positive")
	}
	return nil
}

func validateCallbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid(RuleCallbackURL, "callback_url", fmt.Sprintf("%q is not an absolute http(s) URL", raw))
	}
	return nil
}

func invalid(rule Rule, field, msg string) *ValidationError {
	return &ValidationError{Rule: rule, Field: field, Message: msg}
}
