package detector

import (
	"regexp"
	"strings"

	"bank-fee-auditor/internal/models"
)

// PatternCategory groups description patterns by what they recognise
type PatternCategory int

const (
	// CategoryFee recognises a fee or commission wording
	CategoryFee PatternCategory = iota
	// CategoryService recognises an operation a fee can legitimately relate to
	CategoryService
	// CategoryVague recognises generic wording that hides what was charged
	CategoryVague
	// CategoryInterest recognises debit interest charges
	CategoryInterest
	// CategoryServiceType classifies the service a fee was charged for
	CategoryServiceType
)

// Pattern is one compiled entry of the description vocabulary
type Pattern struct {
	Category PatternCategory
	// Service is set for CategoryServiceType entries
	Service models.ServiceType
	Regexp  *regexp.Regexp
}

type patternSource struct {
	category PatternCategory
	service  models.ServiceType
	expr     string
	anchored bool
}

// Service-type entries are ordered: the first match wins, so the more
// specific international transfer wording precedes the national one.
// Expressions are matched as whole words; anchored entries are used verbatim.
var patternSources = []patternSource{
	{CategoryFee, "", `frais|fee|fees|commissions?|cotisations?|charges?|abonnement|tarif|p[eé]nalit[eé]s?|tenue\s+de\s+compte`, false},

	{CategoryService, "", `virements?|vir|transferts?|transfer|swift|sepa`, false},
	{CategoryService, "", `retraits?|gab|dab|atm|withdrawal`, false},
	{CategoryService, "", `paiements?|achat|carte|cb|card|pos|tpe`, false},
	{CategoryService, "", `ch[eè]ques?|chq|remise`, false},
	{CategoryService, "", `pr[eé]l[eè]vements?|prlv|versement|d[eé]p[oô]t`, false},

	{CategoryVague, "", `divers|diverses|autres?|misc|miscellaneous|r[eé]gularisation|regul|ajustement|adjustment`, false},
	{CategoryVague, "", `^\s*(frais|commission|fee|charges?)\s*(bancaires?|de\s+service|service)?\s*$`, true},
	{CategoryVague, "", `frais\s+de\s+(service|gestion|dossier)`, false},

	{CategoryInterest, "", `int[eé]r[eê]ts?|interest|agios`, false},

	{CategoryServiceType, models.ServiceAccountMaintenance, `tenue\s+de\s+compte|gestion\s+de\s+compte|frais\s+de\s+tenue|account\s+maintenance|package|forfait`, false},
	{CategoryServiceType, models.ServiceTransferInternational, `international|[eé]tranger|swift|foreign`, false},
	{CategoryServiceType, models.ServiceTransferNational, `virements?|vir|transferts?|transfer|sepa`, false},
	{CategoryServiceType, models.ServiceCard, `carte|card|cb|visa|mastercard`, false},
	{CategoryServiceType, models.ServiceATM, `retraits?|gab|dab|atm|withdrawal`, false},
	{CategoryServiceType, models.ServiceOverdraft, `d[eé]couvert|overdraft|commission\s+d.intervention|rejet|impay[eé]s?`, false},
	{CategoryServiceType, models.ServiceSMS, `sms|alertes?|notification`, false},
	{CategoryServiceType, models.ServiceStatement, `relev[eé]s?|statement|extrait`, false},
}

var patternTable = compilePatterns(patternSources)

func compilePatterns(sources []patternSource) []Pattern {
	table := make([]Pattern, 0, len(sources))
	for _, src := range sources {
		expr := src.expr
		if !src.anchored {
			// \b is ASCII-only, so accented words need explicit letter boundaries
			expr = `(?:^|[^\pL\pN])(?:` + expr + `)(?:$|[^\pL\pN])`
		}
		table = append(table, Pattern{
			Category: src.category,
			Service:  src.service,
			Regexp:   regexp.MustCompile(`(?i)` + expr),
		})
	}
	return table
}

// genericWords are tokens that never identify a specific service
var genericWords = map[string]struct{}{
	"frais": {}, "fee": {}, "fees": {}, "commission": {}, "commissions": {},
	"cotisation": {}, "charge": {}, "charges": {}, "divers": {}, "diverses": {},
	"service": {}, "services": {}, "bancaire": {}, "bancaires": {}, "autres": {},
	"pour": {}, "avec": {}, "dans": {}, "from": {}, "with": {}, "the": {},
	"des": {}, "les": {}, "une": {}, "sur": {}, "par": {}, "and": {},
}

// MatchesCategory reports whether description matches any pattern of category
func MatchesCategory(description string, category PatternCategory) bool {
	for _, p := range patternTable {
		if p.Category == category && p.Regexp.MatchString(description) {
			return true
		}
	}
	return false
}

// ClassifyService returns the first service type whose pattern matches
func ClassifyService(description string) models.ServiceType {
	for _, p := range patternTable {
		if p.Category == CategoryServiceType && p.Regexp.MatchString(description) {
			return p.Service
		}
	}
	return models.ServiceOther
}

// IsFeeLike reports whether tx is a debit carrying a fee tag or fee wording.
// Interest charges are excluded; they have their own verifier.
func IsFeeLike(tx *models.Transaction) bool {
	if !tx.IsDebit() || IsInterestCharge(tx) {
		return false
	}
	return tx.Type == models.TransactionTypeFee || MatchesCategory(tx.Description, CategoryFee)
}

// IsInterestCharge reports whether tx is a debit interest charge
func IsInterestCharge(tx *models.Transaction) bool {
	if !tx.IsDebit() {
		return false
	}
	return tx.Type == models.TransactionTypeInterest || MatchesCategory(tx.Description, CategoryInterest)
}

// IsGenericWord reports whether token carries no service-specific meaning
func IsGenericWord(token string) bool {
	_, ok := genericWords[strings.ToLower(token)]
	return ok
}
